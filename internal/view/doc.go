// Package view projects store rows into the display shapes served by
// the REST API. Rows with missing metadata degrade through fallback
// chains instead of erroring; attachment recovery tolerates malformed
// platform payloads.
package view

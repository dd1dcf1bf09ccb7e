package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide prints how to copy session cookies out of a logged-in browser.
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "IMPORTING AN INSTAGRAM BROWSER SESSION")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Log in at https://www.instagram.com in your browser.")
	fmt.Fprintln(w, "2. Open Developer Tools (F12, or Cmd+Option+I on Mac).")
	fmt.Fprintln(w, "3. Application tab (Chrome) or Storage tab (Firefox) -> Cookies ->")
	fmt.Fprintln(w, "   https://www.instagram.com")
	fmt.Fprintln(w, "4. Copy these values:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "   sessionid    long string containing %3A, e.g. 12345678%3Aabcdef...")
	fmt.Fprintln(w, "   csrftoken    32 characters")
	fmt.Fprintln(w, "   ds_user_id   numeric account id (optional)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Copy the whole value without quotes or semicolons. The cookies grant")
	fmt.Fprintln(w, "full access to the account; they are stored encrypted and never logged.")
	fmt.Fprintln(w, rule)
}

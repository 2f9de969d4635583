// Package session provides the rendering session drivers behind
// harvest.Session: a JavaScript-capable Chrome driver built on chromedp and a
// static HTTP driver built on colly. Both expose DOM queries as goquery
// snapshots of the current page source.
package session

// Package extract pulls attribute values, inner text and JSON-LD out of
// fetched pages.
//
// Every extractor follows the same contract: it never returns an error and
// never panics. Absent elements, missing or empty values, parse failures and
// locator timeouts are logged as warnings carrying the locator and the page
// URL, and reported through a false second return value. Callers treat that
// boolean as the only failure signal.
package extract

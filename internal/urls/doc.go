// Package urls holds the documentation links printed in troubleshooting
// output, so they can be updated in one place.
package urls

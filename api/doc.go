// Package api defines the request and response types of the REST
// boundary. Handlers live in the handlers subpackage.
package api

// Package httpapi serves the authentication endpoints over net/http.
//
// Handlers decode JSON, call the engine and map its errors through
// clinicauth.HTTPStatus onto {"error","detail"} bodies. Bearer routes sit
// behind the middleware guard, which also binds the caller's tenant.
package httpapi

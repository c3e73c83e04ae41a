// Package api serves the assignment lifecycle, batch assignment, bulk import
// and dashboard resolution over HTTP.
//
// Administrative routes require an authenticated actor and accept an optional
// X-Tenant-ID header naming the organization the caller acts for:
//
//	POST   /v1/assignments
//	GET    /v1/assignments/{id}
//	DELETE /v1/assignments/{id}
//	POST   /v1/assignments/{id}/confirm
//	POST   /v1/assignments/{id}/revoke
//	POST   /v1/assignments/{id}/regenerate?resend=true&rotate=true
//	POST   /v1/assignments/batch
//	POST   /v1/assignments/import
//	GET    /v1/users/{id}/assignments
//	GET    /v1/users/{id}/dashboard
//
// POST /v1/public/verify is unauthenticated and rate limited per client
// address. It answers every client-side failure with the same body.
package api

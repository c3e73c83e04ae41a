// Package httputil provides the JSON request and response helpers and the
// generic middleware shared by the HTTP API.
//
// Error bodies always have the shape:
//
//	{"error": "human readable message", "code": "STABLE_CODE"}
//
// Request parsing:
//
//	var req CreateAssignmentRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
package httputil

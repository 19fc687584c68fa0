// Package contract provides contract validation against a declared spec URL.
//
// The contract package defines the violation and result types the
// verification pipeline consumes, and an HTTP client for an external
// contract validator service that checks an implementation against its
// declared API contract.
//
// Usage:
//
//	validator := contract.NewHTTPValidator(logger, validatorURL, timeout)
//	result, err := validator.Validate(ctx, taskID, specURL)
package contract

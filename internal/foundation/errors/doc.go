// Package errors defines ClassifiedError, the error type returned across
// packsync. Each error names a category (config, network, protocol, git,
// registry and so on), a severity and a retry hint. The CLI adapter turns the
// category into an exit code and the HTTP adapter turns it into a status code.
//
//	err := errors.WrapError(cause, errors.CategoryGit, "git fetch failed").
//		Retryable().
//		WithContext("package", name).
//		Build()
package errors

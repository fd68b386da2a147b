package git

import (
	stderrors "errors"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// GitError simplifies creating a git-scoped ClassifiedError.
func GitError(message string) *errors.ErrorBuilder {
	return errors.NewError(errors.CategoryGit, message)
}

// ClassifyGitError translates go-git errors into ClassifiedErrors.
func ClassifyGitError(err error, op, name string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsClassified(err); ok {
		return err
	}

	builder := GitError("git "+op+" failed").
		WithCause(err).
		WithContext("op", op).
		WithContext("package", name)

	switch {
	case stderrors.As(err, new(*AuthError)):
		builder.WithCategory(errors.CategoryAuth).UserAction()
	case stderrors.As(err, new(*NotFoundError)),
		stderrors.Is(err, plumbing.ErrObjectNotFound),
		stderrors.Is(err, plumbing.ErrReferenceNotFound),
		stderrors.Is(err, git.ErrRepositoryNotExists):
		builder.WithCategory(errors.CategoryNotFound)
	case stderrors.As(err, new(*RateLimitError)):
		builder.WithCategory(errors.CategoryNetwork).RateLimit()
	case stderrors.As(err, new(*NetworkTimeoutError)):
		builder.WithCategory(errors.CategoryNetwork).Retryable()
	case stderrors.As(err, new(*UnsupportedProtocolError)):
		builder.WithCategory(errors.CategoryConfig)
	case stderrors.Is(err, git.ErrRepositoryAlreadyExists):
		builder.WithCategory(errors.CategoryAlreadyExists)
	default:
		l := strings.ToLower(err.Error())
		if strings.Contains(l, "remote hung up") || strings.Contains(l, "connection reset") || strings.Contains(l, "no route to host") {
			builder.WithCategory(errors.CategoryNetwork).Retryable()
		}
	}
	return builder.Build()
}

// backendCode maps a classified error onto the negative backend codes.
func backendCode(err error) int {
	switch errors.GetCategory(err) {
	case errors.CategoryNotFound:
		return CodeNotFound
	case errors.CategoryAlreadyExists:
		return CodeExists
	case errors.CategoryAuth:
		return CodeAuth
	default:
		return CodeGeneric
	}
}

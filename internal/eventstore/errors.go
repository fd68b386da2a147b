package eventstore

import (
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

func storeError(err error, message string) error {
	return errors.WrapError(err, errors.CategoryEventStore, message).Build()
}

package utils

import (
	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ParseObjectID converts a hex user id. A malformed id cannot name any user,
// so it is reported as ErrNotFound rather than as a server error.
func ParseObjectID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.NilObjectID, apperr.E("utils.ParseObjectID", apperr.ErrNotFound, "malformed id")
	}
	return oid, nil
}

package utils

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

func isDupCode(code int) bool {
	return code == 11000 || code == 11001
}

func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if isDupCode(e.Code) {
				return true
			}
		}
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if isDupCode(e.Code) {
				return true
			}
		}
	}

	return strings.Contains(err.Error(), "E11000 duplicate key error")
}

// DuplicateKeyField guesses which unique index a duplicate-key error hit from
// the server message ("... index: email_1 dup key ...").
func DuplicateKeyField(err error, fields ...string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, f := range fields {
		if strings.Contains(msg, "index: "+f+"_") {
			return f
		}
	}
	return ""
}

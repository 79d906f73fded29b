package utils

import (
	"errors"
	"testing"

	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)

	assert.NoError(t, CheckPassword(hash, "secret1"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), apperr.ErrInvalidCredentials)
}

func TestCheckPassword_EmptyAndMalformedHash(t *testing.T) {
	assert.ErrorIs(t, CheckPassword("", "secret1"), apperr.ErrInvalidCredentials)
	assert.ErrorIs(t, CheckPassword("not-a-bcrypt-hash", "secret1"), apperr.ErrInvalidCredentials)
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := HashPassword("abc")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
	// Fullwidth letters fold to ASCII under NFKC.
	assert.Equal(t, "alice", UsernameKey("ＡＬＩＣＥ"))
	assert.Equal(t, "Alice", NormalizeUsername(" Alice "))
}

func TestIsDuplicateKey(t *testing.T) {
	we := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error collection: users index: email_1 dup key"}}}
	assert.True(t, IsDuplicateKey(we))
	assert.Equal(t, "email", DuplicateKeyField(we, "email", "usernameLower"))

	assert.False(t, IsDuplicateKey(nil))
	assert.False(t, IsDuplicateKey(errors.New("boom")))
	assert.True(t, IsDuplicateKey(errors.New("E11000 duplicate key error index: usernameLower_1")))
	assert.Equal(t, "usernameLower", DuplicateKeyField(errors.New("index: usernameLower_1 dup key"), "email", "usernameLower"))
}

func TestParseObjectID(t *testing.T) {
	_, err := ParseObjectID("nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	oid, err := ParseObjectID("65a1b2c3d4e5f60718293a4b")
	require.NoError(t, err)
	assert.Equal(t, "65a1b2c3d4e5f60718293a4b", oid.Hex())
}

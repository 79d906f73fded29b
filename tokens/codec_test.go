package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = models.Identity{
	ID:       "65a1b2c3d4e5f60718293a4b",
	Username: "alice",
	Email:    "alice@example.com",
	Role:     models.RoleUser,
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCodec(t *testing.T) (*Codec, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 500, time.UTC)}
	c, err := NewCodec("access-secret", "refresh-secret", WithClock(clk.Now))
	require.NoError(t, err)
	return c, clk
}

func TestNewCodec_RejectsBadSecrets(t *testing.T) {
	t.Parallel()

	_, err := NewCodec("", "r")
	assert.ErrorIs(t, err, apperr.ErrConfig)
	_, err = NewCodec("a", "")
	assert.ErrorIs(t, err, apperr.ErrConfig)
	_, err = NewCodec("same", "same")
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestZeroCodec_IsConfigError(t *testing.T) {
	t.Parallel()

	var c Codec
	_, _, err := c.IssueAccessToken(alice)
	assert.ErrorIs(t, err, apperr.ErrConfig)
	_, err = c.VerifyRefreshToken("x")
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()
	c, clk := newTestCodec(t)

	tok, exp, err := c.IssueAccessToken(alice)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Truncate(time.Second).Add(AccessTTL), exp)

	claims, err := c.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, alice, claims.Identity())
	assert.Equal(t, TypeAccess, claims.Type)
	assert.Equal(t, exp, claims.ExpiresAtTime())
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	t.Parallel()
	c, clk := newTestCodec(t)

	tok, exp, err := c.IssueRefreshToken(alice, "session-1")
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Truncate(time.Second).Add(RefreshTTL), exp)

	claims, err := c.VerifyRefreshToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.SessionID())
	assert.Equal(t, alice.ID, claims.Subject)
	assert.Equal(t, exp, claims.ExpiresAtTime(), "record expiry and token exp must be identical")
}

func TestAccessToken_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	c, clk := newTestCodec(t)

	tok, _, err := c.IssueAccessToken(alice)
	require.NoError(t, err)

	clk.Advance(AccessTTL - time.Second)
	_, err = c.VerifyAccessToken(tok)
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	_, err = c.VerifyAccessToken(tok)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)
}

func TestRefreshToken_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	c, clk := newTestCodec(t)

	tok, _, err := c.IssueRefreshToken(alice, "s")
	require.NoError(t, err)

	clk.Advance(RefreshTTL + time.Second)
	_, err = c.VerifyRefreshToken(tok)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)
}

func TestSecretSeparation(t *testing.T) {
	t.Parallel()
	c, _ := newTestCodec(t)

	access, _, err := c.IssueAccessToken(alice)
	require.NoError(t, err)
	refresh, _, err := c.IssueRefreshToken(alice, "s")
	require.NoError(t, err)

	_, err = c.VerifyRefreshToken(access)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
	_, err = c.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestWrongTypeWithRightSecret(t *testing.T) {
	t.Parallel()
	c, _ := newTestCodec(t)

	// A refresh-typed token signed with the access secret.
	claims := c.claims(alice, TypeRefresh, time.Hour)
	claims.ID = "s"
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	_, err = c.VerifyAccessToken(tok)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestRejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()
	c, _ := newTestCodec(t)
	claims := c.claims(alice, TypeAccess, time.Hour)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("access-secret"))
	require.NoError(t, err)
	_, err = c.VerifyAccessToken(hs512)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = c.VerifyAccessToken(none)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestMalformedAndMissingClaims(t *testing.T) {
	t.Parallel()
	c, _ := newTestCodec(t)

	for _, tok := range []string{"", "not.a.jwt", "garbage"} {
		_, err := c.VerifyAccessToken(tok)
		assert.ErrorIs(t, err, apperr.ErrTokenInvalid, tok)
	}

	noSub := c.claims(models.Identity{}, TypeAccess, time.Hour)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noSub).SignedString([]byte("access-secret"))
	require.NoError(t, err)
	_, err = c.VerifyAccessToken(tok)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)

	noJTI := c.claims(alice, TypeRefresh, time.Hour)
	tok, err = jwt.NewWithClaims(jwt.SigningMethodHS256, noJTI).SignedString([]byte("refresh-secret"))
	require.NoError(t, err)
	_, err = c.VerifyRefreshToken(tok)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestIssueRefreshToken_RequiresSessionID(t *testing.T) {
	t.Parallel()
	c, _ := newTestCodec(t)
	_, _, err := c.IssueRefreshToken(alice, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestHasher(t *testing.T) {
	t.Parallel()

	plain := NewHasher("")
	keyed := NewHasher("pepper")

	assert.Len(t, plain.Hash("tok"), 64)
	assert.Equal(t, plain.Hash("tok"), plain.Hash("tok"))
	assert.NotEqual(t, plain.Hash("tok"), plain.Hash("tok2"))
	assert.NotEqual(t, plain.Hash("tok"), keyed.Hash("tok"))
	assert.NotEqual(t, keyed.Hash("tok"), NewHasher("other").Hash("tok"))
}

func TestRefreshTokens_AreDistinctWithinOneSecond(t *testing.T) {
	t.Parallel()
	c, _ := newTestCodec(t)

	a, _, err := c.IssueRefreshToken(alice, "s")
	require.NoError(t, err)
	b, _, err := c.IssueRefreshToken(alice, "s")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

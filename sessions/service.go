// Package sessions implements sign-up, sign-in, refresh and sign-out on top
// of the token codec and the session store.
//
// A session moves ISSUED -> ACTIVE on sign-in, and then ends REFRESHED
// (access token reissued), REVOKED (sign-out, password change, admin action)
// or EXPIRED (refresh after expiry, or the sweeper).
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/models"
	"github.com/kenryalonzo/doualairblog-auth/repository"
	"github.com/kenryalonzo/doualairblog-auth/telemetry"
	"github.com/kenryalonzo/doualairblog-auth/tokens"
	"github.com/kenryalonzo/doualairblog-auth/utils"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxDeviceInfoLen = 256

type Options struct {
	// MaxSessions caps the records kept per user; zero means unlimited.
	MaxSessions int
	// RotateRefreshTokens issues a new refresh token on every refresh and
	// treats reuse of a superseded one as theft.
	RotateRefreshTokens bool
	Clock               func() time.Time
	Logger              zerolog.Logger
	Metrics             *telemetry.Metrics
}

type Service struct {
	store   repository.Store
	codec   *tokens.Codec
	hasher  tokens.Hasher
	opts    Options
	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

func NewService(store repository.Store, codec *tokens.Codec, hasher tokens.Hasher, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		store:   store,
		codec:   codec,
		hasher:  hasher,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "sessions").Logger(),
		metrics: opts.Metrics,
		tracer:  telemetry.Tracer(),
	}
}

// Issued is the result of a successful sign-in or refresh.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
	// Rotated is set when Refresh replaced the refresh token.
	Rotated bool
	User    *models.User
}

type SignUpInput struct {
	Username string
	Email    string
	Password string
	Role     models.Role
}

// FederatedIdentity is what an external identity provider vouches for.
type FederatedIdentity struct {
	Provider string
	Email    string
	Username string
}

func (s *Service) now() time.Time { return s.opts.Clock().UTC() }

func (s *Service) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "sessions."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.HTTPStatus(err).Code)
	}
	span.End()
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.HTTPStatus(err).Code
}

func trimDevice(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDeviceInfoLen {
		s = s[:maxDeviceInfoLen]
	}
	return s
}

// SignUp registers a local account with an empty session set.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (u *models.User, err error) {
	const op = "sessions.SignUp"
	ctx, span := s.start(ctx, "SignUp")
	defer func() { endSpan(span, err) }()

	email := utils.NormalizeEmail(in.Email)
	username := utils.NormalizeUsername(in.Username)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.E(op, apperr.ErrInvalidInput, "email")
	}
	if username == "" {
		return nil, apperr.E(op, apperr.ErrInvalidInput, "username")
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, apperr.E(op, apperr.ErrInvalidInput, "role")
	}

	field, taken, err := s.store.EmailOrUsernameTaken(ctx, email, utils.UsernameKey(username))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if taken {
		return nil, apperr.ConflictError{Op: op, Field: field}
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u = &models.User{
		Username:      username,
		UsernameLower: utils.UsernameKey(username),
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		IsActive:      true,
		RefreshTokens: []models.SessionRecord{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// The store enforces uniqueness again, covering concurrent sign-ups.
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", u.ID.Hex()).Str("role", string(role)).Msg("user.created")
	return u, nil
}

// SignIn checks credentials and opens a new session without touching the
// user's other sessions.
func (s *Service) SignIn(ctx context.Context, email, password, deviceInfo string) (iss *Issued, err error) {
	const op = "sessions.SignIn"
	ctx, span := s.start(ctx, "SignIn")
	defer func() {
		s.metrics.SignIn(result(err))
		endSpan(span, err)
	}()

	u, err := s.store.FindUserByEmail(ctx, utils.NormalizeEmail(email))
	if errors.Is(err, apperr.ErrNotFound) {
		utils.DummyCheckPassword(password)
		return nil, apperr.E(op, apperr.ErrInvalidCredentials, "")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := utils.CheckPassword(u.PasswordHash, password); err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.E(op, apperr.ErrAccountInactive, "")
	}
	return s.issue(ctx, op, u, deviceInfo)
}

// SignInFederated opens a session for an identity an external provider has
// already authenticated, creating a password-less account on first use.
func (s *Service) SignInFederated(ctx context.Context, fid FederatedIdentity, deviceInfo string) (iss *Issued, err error) {
	const op = "sessions.SignInFederated"
	ctx, span := s.start(ctx, "SignInFederated")
	defer func() {
		s.metrics.SignIn(result(err))
		endSpan(span, err)
	}()

	email := utils.NormalizeEmail(fid.Email)
	if !strings.Contains(email, "@") || fid.Provider == "" {
		return nil, apperr.E(op, apperr.ErrInvalidInput, "provider and email are required")
	}

	u, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		u, err = s.createFederated(ctx, op, fid.Provider, email, fid.Username)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !u.IsActive {
		return nil, apperr.E(op, apperr.ErrAccountInactive, "")
	}
	return s.issue(ctx, op, u, deviceInfo)
}

func (s *Service) createFederated(ctx context.Context, op, provider, email, username string) (*models.User, error) {
	username = utils.NormalizeUsername(username)
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	if username == "" {
		username = "user"
	}
	_, taken, err := s.store.EmailOrUsernameTaken(ctx, "", utils.UsernameKey(username))
	if err != nil {
		return nil, err
	}
	if taken {
		username = username + "-" + uuid.NewString()[:8]
	}

	now := s.now()
	u := &models.User{
		Username:      username,
		UsernameLower: utils.UsernameKey(username),
		Email:         email,
		AuthProvider:  provider,
		Role:          models.RoleUser,
		IsActive:      true,
		RefreshTokens: []models.SessionRecord{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", u.ID.Hex()).Str("provider", provider).Msg("user.created.federated")
	return u, nil
}

func (s *Service) issue(ctx context.Context, op string, u *models.User, deviceInfo string) (*Issued, error) {
	id := u.Identity()
	sessionID := uuid.NewString()

	access, accessExp, err := s.codec.IssueAccessToken(id)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.codec.IssueRefreshToken(id, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := models.SessionRecord{
		ID:         sessionID,
		TokenHash:  s.hasher.Hash(refresh),
		ExpiresAt:  refreshExp,
		DeviceInfo: trimDevice(deviceInfo),
		CreatedAt:  now,
	}
	if err := s.store.AddSession(ctx, id.ID, rec, repository.AddOptions{
		Limit:     s.opts.MaxSessions,
		LastLogin: &now,
	}); err != nil {
		return nil, fmt.Errorf("%s: store session: %w", op, err)
	}
	u.LastLogin = &now

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("session.id", sessionID))
	s.log.Info().Str("user_id", id.ID).Str("session_id", sessionID).Msg("session.issued")
	return &Issued{
		SessionID:    sessionID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
		User:         u,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. Unless rotation
// is enabled the refresh token and its record are left unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (iss *Issued, err error) {
	const op = "sessions.Refresh"
	ctx, span := s.start(ctx, "Refresh")
	defer func() {
		s.metrics.Refresh(result(err))
		endSpan(span, err)
	}()

	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	hash := s.hasher.Hash(refreshToken)

	u, rec, err := s.store.FindSessionByTokenHash(ctx, hash)
	if errors.Is(err, apperr.ErrSessionNotFound) && s.opts.RotateRefreshTokens {
		return nil, s.checkReuse(ctx, op, hash, err)
	}
	if err != nil {
		return nil, err
	}

	userID := u.ID.Hex()
	if userID != claims.Subject || rec.ID != claims.SessionID() {
		return nil, apperr.E(op, apperr.ErrTokenInvalid, "token does not match its session")
	}

	now := s.now()
	if rec.Expired(now) {
		if _, rmErr := s.store.RemoveSessionByTokenHash(ctx, userID, hash); rmErr != nil {
			s.log.Error().Err(rmErr).Str("user_id", userID).Msg("session.expired.remove_failed")
		}
		return nil, apperr.E(op, apperr.ErrTokenExpired, "session expired")
	}
	if !u.IsActive {
		return nil, apperr.E(op, apperr.ErrAccountInactive, "")
	}

	id := u.Identity()
	access, accessExp, err := s.codec.IssueAccessToken(id)
	if err != nil {
		return nil, err
	}
	iss = &Issued{
		SessionID:    rec.ID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refreshToken,
		RefreshExp:   rec.ExpiresAt,
		User:         u,
	}

	if s.opts.RotateRefreshTokens {
		next, nextExp, err := s.codec.IssueRefreshToken(id, rec.ID)
		if err != nil {
			return nil, err
		}
		if err := s.store.ReplaceSessionToken(ctx, userID, rec.ID, hash, s.hasher.Hash(next), nextExp, now); err != nil {
			return nil, err
		}
		iss.RefreshToken = next
		iss.RefreshExp = nextExp
		iss.Rotated = true
	}

	s.log.Debug().Str("user_id", userID).Str("session_id", rec.ID).Bool("rotated", iss.Rotated).Msg("session.refreshed")
	return iss, nil
}

// checkReuse handles a refresh token that matches no live record. If it is
// the superseded token of a rotated session, that session is revoked.
func (s *Service) checkReuse(ctx context.Context, op, hash string, notFound error) error {
	u, rec, err := s.store.FindSessionByPreviousHash(ctx, hash)
	if errors.Is(err, apperr.ErrSessionNotFound) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("%s: reuse lookup: %w", op, err)
	}
	userID := u.ID.Hex()
	if _, err := s.store.RemoveSessionByID(ctx, userID, rec.ID); err != nil {
		return fmt.Errorf("%s: revoke reused session: %w", op, err)
	}
	s.log.Warn().Str("user_id", userID).Str("session_id", rec.ID).Msg("session.refresh_reuse.revoked")
	return apperr.E(op, apperr.ErrRefreshReuse, "")
}

// SignOut removes the session of refreshToken. It never fails: a client
// ending its session must not be blocked by a bad token or a store error.
func (s *Service) SignOut(ctx context.Context, refreshToken string) {
	ctx, span := s.start(ctx, "SignOut")
	defer span.End()
	s.metrics.SignOut()

	if refreshToken == "" {
		return
	}
	hash := s.hasher.Hash(refreshToken)

	userID := ""
	if claims, err := s.codec.VerifyRefreshToken(refreshToken); err == nil {
		userID = claims.Subject
	}
	removed, err := s.store.RemoveSessionByTokenHash(ctx, userID, hash)
	if err != nil {
		span.RecordError(err)
		s.log.Error().Err(err).Str("user_id", userID).Msg("session.signout.remove_failed")
		return
	}
	s.log.Info().Str("user_id", userID).Bool("removed", removed).Msg("session.signout")
}

// SignOutAll revokes every session of userID.
func (s *Service) SignOutAll(ctx context.Context, userID string) (n int, err error) {
	ctx, span := s.start(ctx, "SignOutAll")
	defer func() { endSpan(span, err) }()

	n, err = s.store.RemoveAllSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("user_id", userID).Int("removed", n).Msg("session.signout_all")
	return n, nil
}

// RevokeSession ends one session of userID by its id.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) (err error) {
	ctx, span := s.start(ctx, "RevokeSession")
	defer func() { endSpan(span, err) }()

	removed, err := s.store.RemoveSessionByID(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.E("sessions.RevokeSession", apperr.ErrNotFound, "session")
	}
	return nil
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]models.SessionRecord, error) {
	return s.store.ListSessions(ctx, userID)
}

// Authenticate verifies an access token and loads the caller's identity.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (id models.Identity, err error) {
	const op = "sessions.Authenticate"
	ctx, span := s.start(ctx, "Authenticate")
	defer func() { endSpan(span, err) }()

	claims, err := s.codec.VerifyAccessToken(accessToken)
	if err != nil {
		return models.Identity{}, err
	}
	u, err := s.store.FindIdentity(ctx, claims.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Identity{}, apperr.E(op, apperr.ErrUnauthenticated, "unknown user")
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	if !u.IsActive {
		return models.Identity{}, apperr.E(op, apperr.ErrAccountInactive, "")
	}
	return u.Identity(), nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.store.FindIdentity(ctx, userID)
}

// ChangePassword replaces the password after checking the current one and
// revokes every session of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) (err error) {
	ctx, span := s.start(ctx, "ChangePassword")
	defer func() { endSpan(span, err) }()

	u, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := utils.CheckPassword(u.PasswordHash, current); err != nil {
		return err
	}
	hash, err := utils.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Msg("user.password_changed")
	return nil
}

// SetActive enables or disables an account. Existing sessions are kept but
// cannot be refreshed while the account is disabled.
func (s *Service) SetActive(ctx context.Context, userID string, active bool) (err error) {
	ctx, span := s.start(ctx, "SetActive")
	defer func() { endSpan(span, err) }()

	if err := s.store.SetUserActive(ctx, userID, active); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Bool("active", active).Msg("user.status_changed")
	return nil
}

// DeleteAccount removes the user together with all of its sessions.
func (s *Service) DeleteAccount(ctx context.Context, userID string) (err error) {
	ctx, span := s.start(ctx, "DeleteAccount")
	defer func() { endSpan(span, err) }()

	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Msg("user.deleted")
	return nil
}

// SeedAdmin creates an admin account unless one with email exists.
func (s *Service) SeedAdmin(ctx context.Context, email, username, password string) (bool, error) {
	const op = "sessions.SeedAdmin"
	email = utils.NormalizeEmail(email)
	username = utils.NormalizeUsername(username)
	if email == "" || password == "" {
		return false, apperr.E(op, apperr.ErrInvalidInput, "missing admin email or password")
	}
	if username == "" {
		username = "admin"
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	created, err := s.store.CreateUserIfAbsent(ctx, &models.User{
		Username:      username,
		UsernameLower: utils.UsernameKey(username),
		Email:         email,
		PasswordHash:  hash,
		Role:          models.RoleAdmin,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

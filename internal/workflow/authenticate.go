package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// Authenticate logs in with creds, answers an MFA challenge when one appears,
// and stores the resulting session. Any failure invalidates the session.
func (e *Engine) Authenticate(ctx context.Context, baseURL string, creds schemas.Credentials) schemas.WorkflowResult {
	payload := &schemas.AuthPayload{State: schemas.AuthNotStarted}
	result := e.run(ctx, schemas.WorkflowAuthenticate, false, func(ctx context.Context, page schemas.Page, log *runLog) (bool, error) {
		return e.authenticate(ctx, page, log, baseURL, creds, payload)
	})
	if !result.Success {
		payload.State = schemas.AuthFailed
		if err := e.sessions.Invalidate(); err != nil {
			e.logger.Warn("Failed to invalidate session.", zap.Error(err))
		}
	}
	result.Auth = payload
	return result
}

func (e *Engine) authenticate(ctx context.Context, page schemas.Page, log *runLog, baseURL string, creds schemas.Credentials, payload *schemas.AuthPayload) (bool, error) {
	if err := e.navigate(ctx, page, joinURL(baseURL, e.portal.LoginPath), log); err != nil {
		return false, err
	}

	if err := page.WaitForSelector(ctx, e.portal.UsernameLocator, e.timeouts.LoginForm); err != nil {
		return false, fmt.Errorf("login form not found: %w", err)
	}
	if err := page.Fill(ctx, e.portal.UsernameLocator, creds.Username); err != nil {
		return false, fmt.Errorf("failed to enter username: %w", err)
	}
	if err := page.Fill(ctx, e.portal.PasswordLocator, creds.Password); err != nil {
		return false, fmt.Errorf("failed to enter password: %w", err)
	}
	if err := page.Click(ctx, e.portal.LoginSubmitLocator); err != nil {
		return false, fmt.Errorf("failed to submit credentials: %w", err)
	}
	payload.State = schemas.AuthFormSubmitted
	log.infof("Credentials submitted for %s", creds.Username)

	err := page.WaitForSelector(ctx, e.portal.OTPLocator, e.timeouts.MFADetect)
	switch {
	case err == nil:
		payload.State = schemas.AuthMFARequired
		payload.MFARequired = true
		log.infof("MFA challenge detected")

		code := creds.OTPCode
		if code == "" {
			code = e.auth.OTPCode
		}
		if err := page.Fill(ctx, e.portal.OTPLocator, code); err != nil {
			return false, fmt.Errorf("failed to enter MFA code: %w", err)
		}
		if err := page.Click(ctx, e.portal.VerifyLocator); err != nil {
			return false, fmt.Errorf("failed to submit MFA code: %w", err)
		}
		payload.State = schemas.AuthMFASubmitted
		log.infof("MFA code submitted")
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		log.infof("No MFA challenge within %s; continuing", e.timeouts.MFADetect)
	}

	ok, err := landmarkPresent(ctx, page, e.portal.LandmarkText, e.timeouts.Landmark)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %q did not appear within %s", ErrLandmarkTimeout, e.portal.LandmarkText, e.timeouts.Landmark)
	}
	log.infof("Landmark %q observed", e.portal.LandmarkText)

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to export cookies: %w", err)
	}
	if err := e.sessions.Establish(cookies, e.now()); err != nil {
		log.warnf("Session established but not persisted: %v", err)
	}
	payload.State = schemas.AuthAuthenticated
	log.infof("Authentication successful; session holds %d cookies", len(cookies))
	return true, nil
}

// Package authflow implements a stateless multi-factor login orchestrator.
//
// An [Engine] checks a username and password through a [CredentialVerifier].
// Users without MFA receive a full [TokenPair] whose access token embeds the
// permission codes of all their roles. Users with MFA receive only an access
// token carrying no permissions; with it they may request a code
// ([Engine.SendCode]) and confirm it ([Engine.Verify]) over TOTP, phone or
// email, which escalates them to a full pair. [Engine.Refresh] re-derives a
// pair from a refresh token using the subject's current roles.
//
// Every collaborator is an interface. The defaults wired by [Builder] are:
//
//   - token codec: [github.com/MrEthical07/authflow/jwt.Manager]
//   - TOTP: [github.com/MrEthical07/authflow/codes/totp.Provider]
//   - phone and email codes: [github.com/MrEthical07/authflow/codes/otp.Provider]
//     over Redis, delivered by the senders in delivery/sms and delivery/email
//   - credentials: [PasswordVerifier] over Argon2id hashes
//
// Identity stores live in store/memory and store/postgres.
//
// Errors are sentinel kinds ([ErrUnauthenticated], [ErrNotFound],
// [ErrNotConfigured], [ErrInvalidToken], [ErrRateLimited],
// [ErrCollaboratorUnavailable]); [HTTPStatus] maps them for transports.
package authflow

// Package auth provides authentication and authorisation for CRM Core.
//
// It implements a flat role model (admin, sdr, ae, csm, account_manager,
// support_engineer, product, marketing, executive) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - HS256 access and refresh tokens signed with distinct secrets
//   - Single active refresh token per identity, tracked as a SHA-256 ref
//   - Static role-permission mapping with any-of route requirements and
//     an admin bypass
//   - Optional access token revocation on logout
//
// Identity persistence is not owned here. Service methods take the
// IdentityStore of the backend chosen for the current unit of work.
package auth

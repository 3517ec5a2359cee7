// Package models defines the core domain models for Tabsplit.
//
// # Models
//
//   - Receipt: An uploaded restaurant receipt with its line items and
//     stated totals
//   - LineItem: A single priced line on a receipt
//   - Claim: One participant's claim on units of a line item
//   - Participant: A person who has joined a receipt's claim session
//
// Participants are identified by display name within a receipt; there
// are no user accounts. A browser session cookie binds a visitor to
// their name so reloads keep the same identity.
//
// # Design Principles
//
// 1. All monetary values are money.Cents (integer minor units); the
// models never hold floating-point currency.
// 2. Relationships use ID strings instead of pointers to avoid
// circular references.
// 3. Claims store an absolute quantity, never a delta. Replacing a
// participant's claim set is idempotent.
// 4. Mutations bump Receipt.Version so concurrent uploader edits are
// detected instead of silently merged.
package models

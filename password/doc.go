// Package password hashes and verifies passwords with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes minted with weaker parameters so the
// caller can upgrade them after a successful login. Storage of hashes is the
// caller's concern.
package password

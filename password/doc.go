// Package password implements Argon2id credential hashing in PHC string
// format.
//
// Hashes embed their own cost parameters, so parameters can be raised over
// time without invalidating stored credentials. NeedsUpgrade reports when a
// stored hash predates the current configuration and should be re-derived on
// the next successful verification.
package password

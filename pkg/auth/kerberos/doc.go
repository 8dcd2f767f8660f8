// Package kerberos manages the client-side Kerberos credentials joincheck
// authenticates with.
//
// A CredentialCache owns a private in-memory credential cache identified as
// MEMORY:<uuid>, backed by a keytab. Kinit acquires a fresh TGT for a client
// principal from that keytab; the resulting gokrb5 client is what SPNEGO
// transports sign requests with. BindEnvironment exports the cache and keytab
// locations through KRB5CCNAME and KRB5_CLIENT_KTNAME so that child
// processes (ssh, the ipa CLI) resolve the same identity.
//
// The keytab is polled for rotation and swapped in place; the next Kinit
// uses the new keys.
package kerberos

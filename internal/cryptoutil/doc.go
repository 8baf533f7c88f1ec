// Package cryptoutil holds the hashing and signature checks used when
// accepting content bundles.
//
// Signatures are produced by an AWS KMS asymmetric key at publish time. The
// server only fetches the public key from KMS (once, then cached) and
// verifies locally, so verification does not need kms:Verify permission
// and costs no API call per bundle.
package cryptoutil

// Package testing provides testing utilities for gcloud-requests.
//
// # Mocks
//
// The mocks subpackage provides testify-based mock implementations of
// credentials.Credential.
//
// # Fixtures
//
// The fixtures subpackage provides ready-made credentials for common scenarios:
//   - StubCredential mints predictable tokens and counts refreshes
//   - FailingCredential fails every refresh with a recoverable RefreshError
//   - BrokenCredential fails with a non-auth error or panics
//
// # Usage
//
// Import the specific subpackages you need:
//
//	import (
//		"github.com/LeadPages/gcloud-requests/testing/mocks"
//		"github.com/LeadPages/gcloud-requests/testing/fixtures"
//	)
package testing

package nntpengine

import "errors"

// The error taxonomy the NNTP engine reports; the scheduler's article state
// machine translates these into its Outcome values (spec 7).
var (
	ErrConnect  = errors.New("nntpengine: connect error")
	ErrNotFound = errors.New("nntpengine: article or group not found")
	ErrFailed   = errors.New("nntpengine: request failed")
	ErrAuth     = errors.New("nntpengine: authentication failed")
)

// statusClass classifies a 3-digit NNTP response code into the outer error
// taxonomy, grounded on ArticleDownloader::CheckResponse in the reference
// implementation: 2xx success; 41x/42x/43x NotFound; 400/499 or auth error
// ConnectError; everything else Failed.
func statusClass(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 400 || code == 499:
		return ErrConnect
	case code >= 410 && code < 440:
		return ErrNotFound
	default:
		return ErrFailed
	}
}

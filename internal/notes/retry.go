package notes

// Attempt is one fully-specified generation request
type Attempt struct {
	System      string
	User        string
	Temperature float64
}

// AttemptBuilder produces the request for the given attempt number,
// starting from zero
type AttemptBuilder func(attempt int, title, transcript string) Attempt

// RetryPolicy bounds how notes generation retries on malformed output.
// MaxAttempts counts total provider calls; transport failures never
// consume an extra attempt because they surface immediately.
type RetryPolicy struct {
	MaxAttempts int
	Build       AttemptBuilder
}

// DefaultRetryPolicy retries exactly once on a parse failure. The
// retry demands bare JSON and drops the temperature to zero, which
// resolves most malformed responses.
func DefaultRetryPolicy(temperature float64) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Build: func(attempt int, title, transcript string) Attempt {
			system, user := BuildNotesPrompt(title, transcript)
			if attempt == 0 {
				return Attempt{System: system, User: user, Temperature: temperature}
			}
			return Attempt{
				System:      system,
				User:        user + "\n\n" + strictJSONSuffix,
				Temperature: 0,
			}
		},
	}
}

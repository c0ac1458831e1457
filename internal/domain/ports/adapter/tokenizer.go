package adapter

// TokenCounter counts tokens in plain text for one tokenizer family.
// Implementations must be safe for concurrent use. An error tells the caller
// to fall back to an estimate for that call.
type TokenCounter interface {
	Count(text string) (int, error)
}

package question

import "strings"

const (
	trailerPrefix = "\n\n<!--QUESTION_ID:"
	trailerSuffix = "-->"
)

// Trailer is appended to a generated question stream once the question
// has been stored.
func Trailer(id string) string {
	return trailerPrefix + id + trailerSuffix
}

// SplitTrailer separates streamed question text from its trailer. ok is
// false when body carries no trailer, in which case content is body.
func SplitTrailer(body string) (content, id string, ok bool) {
	if !strings.HasSuffix(body, trailerSuffix) {
		return body, "", false
	}
	i := strings.LastIndex(body, trailerPrefix)
	if i < 0 {
		return body, "", false
	}
	id = body[i+len(trailerPrefix) : len(body)-len(trailerSuffix)]
	if id == "" || strings.ContainsAny(id, " \n<>") {
		return body, "", false
	}
	return body[:i], id, true
}

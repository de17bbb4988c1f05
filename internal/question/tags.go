package question

import "github.com/suPer8Hu/ai-interview/internal/cache"

const resource = "questions"

func GlobalTag() string                  { return cache.GlobalTag(resource) }
func IDTag(id string) string             { return cache.IDTag(resource, id) }
func JobInfoTag(jobInfoID string) string { return cache.JobInfoTag(resource, jobInfoID) }

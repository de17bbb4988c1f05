package interview

import "github.com/suPer8Hu/ai-interview/internal/cache"

const resource = "interviews"

func GlobalTag() string                  { return cache.GlobalTag(resource) }
func UserTag(userID string) string       { return cache.UserTag(resource, userID) }
func IDTag(id string) string             { return cache.IDTag(resource, id) }
func JobInfoTag(jobInfoID string) string { return cache.JobInfoTag(resource, jobInfoID) }

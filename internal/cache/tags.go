package cache

func GlobalTag(resource string) string {
	return "global:" + resource
}

func UserTag(resource, userID string) string {
	return "user:" + userID + ":" + resource
}

func IDTag(resource, id string) string {
	return "id:" + id + ":" + resource
}

func JobInfoTag(resource, jobInfoID string) string {
	return "jobInfo:" + jobInfoID + ":" + resource
}

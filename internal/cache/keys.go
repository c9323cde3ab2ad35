package cache

import "fmt"

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

func BatchAcceptedKey(batchID string) string {
	return fmt.Sprintf("import:batch:%s", batchID)
}

func JobKey(jobID string) string {
	return fmt.Sprintf("import:job:%s", jobID)
}

func JobImportedKey(jobID string) string {
	return JobKey(jobID) + ":imported"
}

func JobItemsKey(jobID string) string {
	return JobKey(jobID) + ":items"
}

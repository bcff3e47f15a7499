// Package storage persists cronkeep's named collections: the job registry,
// the execution log list and small user preferences such as crontab auto-sync.
package storage

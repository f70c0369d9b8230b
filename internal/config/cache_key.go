package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentLoginKey holds the JWT ID of the student's current login.
func (r *CacheKeyStruct) StudentLoginKey(studentID string) string {
	return fmt.Sprintf("login:%s", studentID)
}

// LoginInteractionKey maps a login's JWT ID back to its student.
func (r *CacheKeyStruct) LoginInteractionKey(jti string) string {
	return fmt.Sprintf("login_jti:%s", jti)
}

// AssessmentDocumentKey caches the encoded document of one version.
func (r *CacheKeyStruct) AssessmentDocumentKey(version string) string {
	return fmt.Sprintf("assessment:%s:document", version)
}

// AssessmentMonitorChannel returns the Redis PubSub channel name for an assessment monitor
func (r *CacheKeyStruct) AssessmentMonitorChannel(version string) string {
	return fmt.Sprintf("assessment:%s:monitor", version)
}

var CacheKey = NewCacheKeyStruct()

package models

// AllModels lists every persisted model in migration order
func AllModels() []interface{} {
	return []interface{}{
		&Category{},
		&ApprovalPolicy{},
		&ApprovalSettings{},
		&ShareApprovalRequest{},
		&RequestApprover{},
		&ApprovalDecision{},
		&ApprovalHistory{},
		&Bucket{},
		&BucketPermission{},
		&Credential{},
		&CredentialBucketPermission{},
		&GroupMember{},
	}
}

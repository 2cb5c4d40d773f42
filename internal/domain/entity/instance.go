package entity

import "time"

// TenantCredential is the access token a tenant holds for one provider instance.
// Owned by tenant management; the pipeline only reads it.
type TenantCredential struct {
	TenantID    string    `json:"tenant_id"`
	InstanceID  string    `json:"instance_id"`
	AccessToken string    `json:"-"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsUsable returns true if the credential may be used for upstream calls
func (c *TenantCredential) IsUsable() bool {
	return c != nil && c.Status == CredentialStatusConnected && c.AccessToken != ""
}

// PairKey returns the (tenant, instance) key used for throttling
func (c *TenantCredential) PairKey() string {
	return c.TenantID + "/" + c.InstanceID
}

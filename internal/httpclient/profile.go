package httpclient

import (
	"github.com/sentryfrogg/engine/internal/model"
)

// ProfileUpsert creates or replaces a named api profile. data carries
// auth_kind/auth_provider/... configuration; secrets carries token/
// client_secret/refresh_token as applicable.
func (c *Client) ProfileUpsert(name string, data map[string]interface{}, secrets map[string]string) (model.Profile, error) {
	prof, err := c.profiles.Upsert(name, model.ProfileAPI, data, secrets)
	if err == nil {
		c.tokens.invalidate(name)
	}
	return prof, err
}

func (c *Client) ProfileGet(name string) (model.Profile, error) {
	prof, _, err := c.profiles.Get(name, model.ProfileAPI)
	return prof, err
}

func (c *Client) ProfileList() ([]model.ProfileSummary, error) {
	return c.profiles.List(model.ProfileAPI)
}

func (c *Client) ProfileDelete(name string) error {
	if err := c.profiles.Delete(name); err != nil {
		return err
	}
	c.tokens.invalidate(name)
	return nil
}

package rest

import "net/http"

type AuthEngine interface {
	SetApiKey(request *http.Request)
}

// AccessTokenAuth is the storefront admin token header.
type AccessTokenAuth struct {
	token string
}

func NewAccessTokenAuth(token string) *AccessTokenAuth {
	if token == "" {
		return nil
	}
	return &AccessTokenAuth{token: token}
}

func (a *AccessTokenAuth) SetApiKey(request *http.Request) {
	request.Header.Set("X-Shopify-Access-Token", a.token)
}

type BearerAuth struct {
	apiKey string
}

func NewBearerAuth(apiKey string) *BearerAuth {
	if apiKey == "" {
		return nil
	}
	return &BearerAuth{apiKey: apiKey}
}

func (b *BearerAuth) SetApiKey(request *http.Request) {
	request.Header.Set("Authorization", "Bearer "+b.apiKey)
}

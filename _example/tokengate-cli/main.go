// Command tokengate-cli obtains an access token with the client credentials
// grant and calls a protected resource with it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       string
	resourceURL  string

	httpClient = &http.Client{Timeout: 10 * time.Second}
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func initConfig() {
	_ = godotenv.Load()

	flag.StringVar(&tokenURL, "token-url",
		getEnv("TOKEN_URL", "http://localhost:8080/oauth/token"), "token endpoint")
	flag.StringVar(&clientID, "client-id", getEnv("CLIENT_ID", ""), "OAuth client ID")
	flag.StringVar(&clientSecret, "client-secret", getEnv("CLIENT_SECRET", ""), "OAuth client secret")
	flag.StringVar(&scopes, "scope", getEnv("SCOPE", "read"), "space separated scopes to request")
	flag.StringVar(&resourceURL, "resource-url",
		getEnv("RESOURCE_URL", "http://localhost:8081/hello"), "protected resource to call")
	flag.Parse()
}

func newClientConfig() *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       strings.Fields(scopes),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

// callResource sends a GET to resourceURL with tok as the bearer token.
func callResource(ctx context.Context, tok *oauth2.Token) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return 0, "", err
	}
	tok.SetAuthHeader(req)

	resp, err := retryableHTTPRequest(ctx, httpClient, req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func run(ctx context.Context) error {
	if clientID == "" || clientSecret == "" {
		return fmt.Errorf("client ID and secret are required (-client-id, -client-secret)")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	tok, err := newClientConfig().Token(ctx)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	fmt.Printf("Access token issued (expires %s, scope %q)\n",
		tok.Expiry.Format(time.RFC3339), tok.Extra("scope"))

	status, body, err := callResource(ctx, tok)
	if err != nil {
		return fmt.Errorf("resource request failed: %w", err)
	}
	fmt.Printf("%s -> %d\n%s\n", resourceURL, status, body)
	return nil
}

func main() {
	initConfig()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

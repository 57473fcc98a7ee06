// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetAuthenticatedUser(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/user" {
			t.Errorf("path = %s, want /user", request.URL.Path)
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"login":"octocat","id":583231,"avatar_url":"https://avatars.example/u/583231"}`))
	}))
	defer server.Close()

	user, err := newTestClient(t, server).GetAuthenticatedUser(context.Background())
	if err != nil {
		t.Fatalf("GetAuthenticatedUser: %v", err)
	}
	if user.Login != "octocat" || user.AvatarURL == "" {
		t.Errorf("user = %+v", user)
	}
}

func TestGetAuthenticatedUserBadToken(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusUnauthorized)
		writer.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).GetAuthenticatedUser(context.Background())
	if !IsUnauthorized(err) {
		t.Errorf("err = %v, want IsUnauthorized", err)
	}
}

func TestDownloadAvatar(t *testing.T) {
	image := []byte("\x89PNG\r\n\x1a\nfake image data")
	var receivedAuth string
	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedAuth = request.Header.Get("Authorization")
		writer.Header().Set("Content-Type", "image/png")
		writer.Write(image)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	data, contentType, err := client.DownloadAvatar(context.Background(), server.URL+"/u/1?v=4")
	if err != nil {
		t.Fatalf("DownloadAvatar: %v", err)
	}
	if !bytes.Equal(data, image) {
		t.Errorf("data = %q", data)
	}
	if contentType != "image/png" {
		t.Errorf("content type = %q", contentType)
	}
	if receivedAuth != "" {
		t.Errorf("avatar request carried credentials: %q", receivedAuth)
	}
}

package command

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildEventReadsSourceFile(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	if err := os.WriteFile(source, []byte("print(1)"), 0o600); err != nil {
		t.Fatalf("write temp source failed: %v", err)
	}

	cmd := Registry()["duel submit"]
	params, err := ParseArgs([]string{"id=m1", "language=python", "file=" + source})
	if err != nil {
		t.Fatalf("parse args failed: %v", err)
	}
	if missing := Resolve(cmd, params, ""); len(missing) != 0 {
		t.Fatalf("unexpected missing fields: %+v", missing)
	}
	spec, err := BuildEvent(cmd, params)
	if err != nil {
		t.Fatalf("build event failed: %v", err)
	}
	if spec.Event != "submit_code" {
		t.Fatalf("unexpected event: %s", spec.Event)
	}
	payload, ok := spec.Data.(map[string]string)
	if !ok {
		t.Fatalf("unexpected payload type %T", spec.Data)
	}
	if payload["matchId"] != "m1" || payload["language"] != "python" || payload["code"] != "print(1)" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestResolveUsesCurrentMatch(t *testing.T) {
	cmd := Registry()["duel forfeit"]
	params := Params{}
	if missing := Resolve(cmd, params, "m7"); len(missing) != 0 {
		t.Fatalf("current match should satisfy match_id, missing %+v", missing)
	}
	spec, err := BuildEvent(cmd, params)
	if err != nil {
		t.Fatalf("build event failed: %v", err)
	}
	if spec.Data != "m7" {
		t.Fatalf("expected bare match id payload, got %v", spec.Data)
	}

	missing := Resolve(cmd, Params{}, "")
	if len(missing) != 1 || missing[0].Name != "match_id" {
		t.Fatalf("expected match_id to be missing, got %+v", missing)
	}
}

func TestSpectateDoesNotDefaultToCurrentMatch(t *testing.T) {
	missing := Resolve(Registry()["spectate join"], Params{}, "m7")
	if len(missing) != 1 {
		t.Fatalf("spectating needs an explicit match, got %+v", missing)
	}
}

func TestBuildEventWithoutPayload(t *testing.T) {
	spec, err := BuildEvent(Registry()["lobby join"], Params{})
	if err != nil {
		t.Fatalf("build event failed: %v", err)
	}
	if spec.Event != "join_lobby" || spec.Data != nil {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestBuildRequestPathAndQuery(t *testing.T) {
	params := Params{}
	params.Set("id", "a b")
	req, err := BuildRequest(Registry()["match get"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "GET" || req.Path != "/api/v1/matches/a%20b" {
		t.Fatalf("unexpected request: %+v", req)
	}

	params = Params{}
	params.Set("limit", "5")
	params.Set("offset", "10")
	req, err = BuildRequest(Registry()["match history"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Path != "/api/v1/matches/user/history?limit=5&offset=10" {
		t.Fatalf("unexpected path: %s", req.Path)
	}

	params.Set("limit", "many")
	if _, err := BuildRequest(Registry()["match history"], params); err == nil {
		t.Fatalf("expected invalid limit to be rejected")
	}
}

func TestBuildRequestMissingPathParam(t *testing.T) {
	if _, err := BuildRequest(Registry()["admin cancel"], Params{}); err == nil {
		t.Fatalf("expected missing path parameter error")
	}
}

func TestTransportMismatch(t *testing.T) {
	if _, err := BuildRequest(Registry()["lobby join"], Params{}); err == nil {
		t.Fatalf("event command must not build an http request")
	}
	if _, err := BuildEvent(Registry()["server health"], Params{}); err == nil {
		t.Fatalf("http command must not build an event")
	}
}

func TestParseArgsRejectsBareTokens(t *testing.T) {
	if _, err := ParseArgs([]string{"oops"}); err == nil {
		t.Fatalf("expected invalid param error")
	}
	params, err := ParseArgs([]string{"Text=a=b"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if params.Get("text") != "a=b" {
		t.Fatalf("value should keep everything after the first '=': %q", params.Get("text"))
	}
}

package internal

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/mizusense/suimon/internal/auth"
	"github.com/mizusense/suimon/internal/idp"
	"github.com/mizusense/suimon/internal/server"
	"github.com/mizusense/suimon/internal/server/db"
)

const (
	testAdminToken = "test-admin-token-1234567890"
	testIssuer     = "https://cognito-idp.ap-northeast-1.amazonaws.com/ap-northeast-1_testpool"
	testClientID   = "test-client-id"
	testKid        = "integration-key-1"
)

type testEnv struct {
	ts      *httptest.Server
	store   *db.Store
	signKey *rsa.PrivateKey
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	signKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	pub, err := jwk.Import(&signKey.PublicKey)
	if err != nil {
		t.Fatalf("import public key: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, testKid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}
	doc, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal key set: %v", err)
	}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(jwks.Close)

	store, err := db.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &server.Config{
		AdminToken: testAdminToken,
		IssuerURL:  testIssuer,
		ClientID:   testClientID,
	}
	validator := auth.NewValidator(auth.NewKeyCache(jwks.URL), testIssuer, testClientID)

	router := server.NewRouter(store, validator, idp.NewMemoryProvider(), cfg)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: store, signKey: signKey}
}

// userToken mints an access token for a user the way the pool would.
func (e *testEnv) userToken(t *testing.T, sub string) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       testIssuer,
		"client_id": testClientID,
		"sub":       sub,
		"token_use": "access",
		"exp":       now.Add(time.Hour).Unix(),
		"iat":       now.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(e.signKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func request(method, url, bearer string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return http.DefaultClient.Do(req)
}

func adminRequest(method, url string, body []byte) (*http.Response, error) {
	return request(method, url, testAdminToken, body)
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode body %s: %v", raw, err)
	}
}

func TestProvisionClaimAndRead(t *testing.T) {
	env := setupTestServer(t)

	// Admin provisions a device.
	body, _ := json.Marshal(map[string]any{"deviceId": "WL-100", "site": "niigata"})
	resp, err := adminRequest("POST", env.ts.URL+"/v1/devices", body)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("provision status = %d", resp.StatusCode)
	}

	// Provisioning without the admin token is rejected.
	resp, err = request("POST", env.ts.URL+"/v1/devices", "", body)
	if err != nil {
		t.Fatalf("provision no auth: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated provision status = %d", resp.StatusCode)
	}

	// Anonymous catalog read works.
	resp, err = request("GET", env.ts.URL+"/v1/devices/WL-100", "", nil)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	var view struct {
		Status string `json:"status"`
	}
	decode(t, resp, &view)
	if view.Status != db.StatusAvailable {
		t.Fatalf("fresh device status = %q", view.Status)
	}

	// Claim requires a user token.
	claimBody, _ := json.Marshal(map[string]any{"deviceId": "WL-100", "lat": 37.9, "lon": 139.0})
	resp, err = request("POST", env.ts.URL+"/v1/devices/claim", "", claimBody)
	if err != nil {
		t.Fatalf("anon claim: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous claim status = %d", resp.StatusCode)
	}

	alice := env.userToken(t, "user-alice")
	resp, err = request("POST", env.ts.URL+"/v1/devices/claim", alice, claimBody)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	var claimed struct {
		Status    string `json:"status"`
		Ownership struct {
			OwnershipID int64  `json:"ownershipId"`
			UserID      string `json:"userId"`
		} `json:"ownership"`
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("claim status = %d, body %s", resp.StatusCode, raw)
	}
	decode(t, resp, &claimed)
	if claimed.Status != db.StatusClaimed || claimed.Ownership.UserID != "user-alice" {
		t.Fatalf("unexpected claim: %+v", claimed)
	}
	if claimed.Ownership.OwnershipID != 1 {
		t.Fatalf("first ownership id = %d", claimed.Ownership.OwnershipID)
	}

	// A second user is turned away.
	bob := env.userToken(t, "user-bob")
	resp, err = request("POST", env.ts.URL+"/v1/devices/claim", bob, claimBody)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second claim status = %d", resp.StatusCode)
	}

	// Alice sees her claim, Bob sees none.
	resp, err = request("GET", env.ts.URL+"/v1/ownerships", alice, nil)
	if err != nil {
		t.Fatalf("list ownerships: %v", err)
	}
	var owned []json.RawMessage
	decode(t, resp, &owned)
	if len(owned) != 1 {
		t.Fatalf("alice owns %d devices", len(owned))
	}

	resp, err = request("GET", env.ts.URL+"/v1/ownerships", bob, nil)
	if err != nil {
		t.Fatalf("list ownerships: %v", err)
	}
	owned = nil
	decode(t, resp, &owned)
	if len(owned) != 0 {
		t.Fatalf("bob owns %d devices", len(owned))
	}
}

func TestConcurrentClaimsOverHTTP(t *testing.T) {
	env := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{"deviceId": "WL-200"})
	resp, err := adminRequest("POST", env.ts.URL+"/v1/devices", body)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	resp.Body.Close()

	const racers = 6
	claimBody, _ := json.Marshal(map[string]any{"deviceId": "WL-200", "lat": 0.0, "lon": 0.0})
	tokens := make([]string, racers)
	for i := range tokens {
		tokens[i] = env.userToken(t, fmt.Sprintf("racer-%d", i))
	}
	codes := make([]int, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := request("POST", env.ts.URL+"/v1/devices/claim", tokens[i], claimBody)
			if err != nil {
				t.Errorf("claim %d: %v", i, err)
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, code := range codes {
		if code == http.StatusOK {
			wins++
		} else if code != http.StatusConflict {
			t.Fatalf("unexpected status %d", code)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestTokenRejections(t *testing.T) {
	env := setupTestServer(t)

	claimBody, _ := json.Marshal(map[string]any{"deviceId": "x", "lat": 0.0, "lon": 0.0})

	// Expired token.
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       testIssuer,
		"client_id": testClientID,
		"sub":       "user-late",
		"token_use": "access",
		"exp":       now.Add(-time.Hour).Unix(),
		"iat":       now.Add(-2 * time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	expired, err := tok.SignedString(env.signKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, bearer := range map[string]string{
		"expired":   expired,
		"malformed": "not-a-token",
	} {
		resp, err := request("POST", env.ts.URL+"/v1/devices/claim", bearer, claimBody)
		if err != nil {
			t.Fatalf("%s claim: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s token status = %d", name, resp.StatusCode)
		}
	}

	// A non-session token_use is refused at the boundary even though it is
	// well signed.
	claims["exp"] = now.Add(time.Hour).Unix()
	claims["token_use"] = "invite"
	tok = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	invite, err := tok.SignedString(env.signKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp, err := request("POST", env.ts.URL+"/v1/devices/claim", invite, claimBody)
	if err != nil {
		t.Fatalf("invite claim: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invite token status = %d", resp.StatusCode)
	}
}

func TestMeasurementFlow(t *testing.T) {
	env := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{"deviceId": "WL-300"})
	resp, err := adminRequest("POST", env.ts.URL+"/v1/devices", body)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	resp.Body.Close()

	sample, _ := json.Marshal(map[string]any{"value": 18.4})
	resp, err = adminRequest("POST", env.ts.URL+"/v1/devices/WL-300/measurements", sample)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}

	resp, err = request("GET", env.ts.URL+"/v1/devices/WL-300/latest", "", nil)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	var latest struct {
		Value *float64 `json:"value"`
	}
	decode(t, resp, &latest)
	if latest.Value == nil || *latest.Value != 18.4 {
		t.Fatalf("latest = %+v", latest)
	}
}

package utils

import (
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		// Valid symbols
		{"valid BTCUSDT", "BTCUSDT", false},
		{"valid with slash", "BTC/USDT", false},
		{"valid with hyphen", "BTC-USDT", false},
		{"valid with underscore", "BTC_USDT", false},
		{"valid lowercase", "btcusdt", false},
		{"valid short", "XY", false},
		{"valid with numbers", "1INCH", false},

		// Invalid symbols
		{"empty", "", true},
		{"single char", "B", true},
		{"too long", "BTCUSDTBTCUSDTBTCUSDTBTCUSDTXXX", true},
		{"special chars", "BTC@USDT", true},
		{"spaces", "BTC USDT", true},
		{"double separator", "BTC//USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already normalized", "BTC/USDT", "BTC/USDT"},
		{"lowercase with slash", "btc/usdt", "BTC/USDT"},
		{"with hyphen", "btc-usdt", "BTC/USDT"},
		{"with underscore", "BTC_USDT", "BTC/USDT"},
		{"concatenated", "btcusdt", "BTC/USDT"},
		{"concatenated usdc", "ETHUSDC", "ETH/USDC"},
		{"with spaces", "  sol/usdt  ", "SOL/USDT"},
		{"mixed case with hyphen", "Btc-Usdt", "BTC/USDT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeSymbol(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestExtractBaseCurrency(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		expected string
	}{
		{"with slash", "BTC/USDT", "BTC"},
		{"concatenated", "ETHUSDT", "ETH"},
		{"with hyphen", "SOL-USDT", "SOL"},
		{"USDC pair", "BTCUSDC", "BTC"},
		{"BTC quote", "ETHBTC", "ETH"},
		{"lowercase", "btcusdt", "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractBaseCurrency(tt.symbol)
			if result != tt.expected {
				t.Errorf("ExtractBaseCurrency(%q) = %q, want %q", tt.symbol, result, tt.expected)
			}
		})
	}
}

func TestExtractQuoteCurrency(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		expected string
	}{
		{"with slash", "BTC/USDT", "USDT"},
		{"concatenated", "ETHUSDC", "USDC"},
		{"with hyphen", "SOL-USDT", "USDT"},
		{"with underscore", "ETH_BTC", "BTC"},
		{"BTC quote", "ETHBTC", "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractQuoteCurrency(tt.symbol)
			if result != tt.expected {
				t.Errorf("ExtractQuoteCurrency(%q) = %q, want %q", tt.symbol, result, tt.expected)
			}
		})
	}
}

func TestValidateVolume(t *testing.T) {
	tests := []struct {
		name    string
		volume  float64
		wantErr bool
	}{
		{"valid small", 0.001, false},
		{"valid normal", 100.0, false},
		{"valid large", 1000000.0, false},
		{"min volume", 1e-8, false},
		{"zero", 0, true},
		{"negative", -100.0, true},
		{"too large", 1e10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVolume(tt.volume)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVolume(%v) error = %v, wantErr %v", tt.volume, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStopLoss(t *testing.T) {
	tests := []struct {
		name    string
		sl      float64
		wantErr bool
	}{
		{"valid small", 0.5, false},
		{"valid normal", 5.0, false},
		{"valid max", 100.0, false},
		{"zero", 0, true},
		{"negative", -1.0, true},
		{"too large", 101.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStopLoss(tt.sl)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStopLoss(%v) error = %v, wantErr %v", tt.sl, err, tt.wantErr)
			}
		})
	}
}

func TestValidateLeverage(t *testing.T) {
	tests := []struct {
		name     string
		leverage int
		wantErr  bool
	}{
		{"valid 1x", 1, false},
		{"valid 10x", 10, false},
		{"valid 100x", 100, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too large", 101, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLeverage(tt.leverage)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLeverage(%v) error = %v, wantErr %v", tt.leverage, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePercentage(t *testing.T) {
	tests := []struct {
		name    string
		pct     float64
		wantErr bool
	}{
		{"valid 0", 0, false},
		{"valid 50", 50.0, false},
		{"valid 100", 100.0, false},
		{"negative", -1.0, true},
		{"too large", 101.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePercentage(tt.pct)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePercentage(%v) error = %v, wantErr %v", tt.pct, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid simple", "user@example.com", false},
		{"valid with subdomain", "user@mail.example.com", false},
		{"valid with plus", "user+tag@example.com", false},
		{"valid with dots", "first.last@example.com", false},
		{"empty", "", true},
		{"no at", "userexample.com", true},
		{"no domain", "user@", true},
		{"no user", "@example.com", true},
		{"no tld", "user@example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr bool
	}{
		{"valid 16 chars", "1234567890123456", false},
		{"valid 32 chars", "12345678901234567890123456789012", false},
		{"valid with letters", "AbCdEfGhIjKlMnOp", false},
		{"valid with dashes", "abcd-1234-5678-efgh", false},
		{"valid with underscores", "abcd_1234_5678_efgh", false},
		{"empty", "", true},
		{"too short", "123456789012345", true},
		{"special chars", "abcd!@#$efgh1234", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.apiKey)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.apiKey, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAPISecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"valid 16 chars", "1234567890123456", false},
		{"valid 64 chars", "1234567890123456789012345678901234567890123456789012345678901234", false},
		{"valid with special", "abcd1234!@#$%^&*", false},
		{"empty", "", true},
		{"too short", "123456789012345", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPISecret(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPISecret(%q) error = %v, wantErr %v", tt.secret, err, tt.wantErr)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors

	errs.Add("field1", "error1")
	errs.Add("field2", "error2")

	if !errs.HasErrors() {
		t.Error("ValidationErrors.HasErrors() = false, want true")
	}

	errStr := errs.Error()
	if errStr == "" {
		t.Error("ValidationErrors.Error() should not be empty")
	}

	if len(errs) != 2 {
		t.Errorf("ValidationErrors length = %d, want 2", len(errs))
	}
}

func TestValidationErrorsAddError(t *testing.T) {
	var errs ValidationErrors

	// Should not add nil error
	errs.AddError("field1", nil)
	if errs.HasErrors() {
		t.Error("ValidationErrors.AddError(nil) should not add error")
	}

	// Should add non-nil error
	errs.AddError("field2", ErrInvalidSymbol)
	if !errs.HasErrors() {
		t.Error("ValidationErrors.AddError(err) should add error")
	}
}

func TestIsValidHelpers(t *testing.T) {
	if !IsValidSymbol("BTC/USDT") {
		t.Error("IsValidSymbol(BTC/USDT) = false, want true")
	}
	if IsValidSymbol("") {
		t.Error("IsValidSymbol('') = true, want false")
	}
	if !IsValidEmail("user@example.com") {
		t.Error("IsValidEmail(user@example.com) = false, want true")
	}
	if IsValidEmail("invalid") {
		t.Error("IsValidEmail(invalid) = true, want false")
	}
	if !IsValidAPIKey("1234567890123456") {
		t.Error("IsValidAPIKey(1234567890123456) = false, want true")
	}
	if IsValidAPIKey("short") {
		t.Error("IsValidAPIKey(short) = true, want false")
	}
}

// Benchmarks

func BenchmarkValidateSymbol(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ValidateSymbol("BTC/USDT")
	}
}

func BenchmarkNormalizeSymbol(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NormalizeSymbol("btc-usdt")
	}
}

func BenchmarkValidateEmail(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ValidateEmail("user@example.com")
	}
}

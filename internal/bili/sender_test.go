package bili

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		code    int
		message string
		want    error
	}{
		{name: "ok", code: 0, message: "", want: nil},
		{name: "throttle code", code: 10030, message: "msg in 1s", want: ErrThrottled},
		{name: "throttle alt code", code: 10031, message: "", want: ErrThrottled},
		{name: "request flood", code: -412, message: "", want: ErrThrottled},
		{name: "throttle by message", code: 1, message: "发送频率过快", want: ErrThrottled},
		{name: "too long", code: 1, message: "超出限制长度", want: ErrTooLong},
		{name: "too long english", code: 1, message: "msg too long", want: ErrTooLong},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.code, tt.message)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("classify = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyGenericRejection(t *testing.T) {
	t.Parallel()
	err := classify(-101, "账号未登录")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrTooLong) {
		t.Fatalf("generic rejection misclassified: %v", err)
	}
}

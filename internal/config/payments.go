package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PaymentPolicy controls installment arithmetic. Finance tunes these values
// without a redeploy, so the holder supports hot reload from payments.yml.
type PaymentPolicy struct {
	// MinFirstInstallmentPercent is the share of the total charged up front
	// on a two-installment plan, in whole percent.
	MinFirstInstallmentPercent int `mapstructure:"minFirstInstallmentPercent"`

	// SecondInstallmentGraceDays is how long after initiation the second
	// installment falls due.
	SecondInstallmentGraceDays int `mapstructure:"secondInstallmentGraceDays"`
}

func DefaultPaymentPolicy() PaymentPolicy {
	return PaymentPolicy{
		MinFirstInstallmentPercent: 50,
		SecondInstallmentGraceDays: 30,
	}
}

func (p PaymentPolicy) GracePeriod() time.Duration {
	return time.Duration(p.SecondInstallmentGraceDays) * 24 * time.Hour
}

type PaymentPolicyHolder struct {
	current atomic.Value // holds PaymentPolicy
}

// NewPaymentPolicyHolderWith seeds a holder with a fixed policy. Tests use it
// to pin the split percentage without touching the filesystem.
func NewPaymentPolicyHolderWith(policy PaymentPolicy) *PaymentPolicyHolder {
	holder := &PaymentPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPaymentPolicyHolder() (*PaymentPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("payments")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/academy/config")
	v.AddConfigPath("/etc/academy")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ACADEMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPaymentPolicy()
	v.SetDefault("payments.minFirstInstallmentPercent", defaults.MinFirstInstallmentPercent)
	v.SetDefault("payments.secondInstallmentGraceDays", defaults.SecondInstallmentGraceDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy PaymentPolicy
	if err := v.UnmarshalKey("payments", &policy); err != nil {
		return nil, err
	}
	if err := validatePaymentPolicy(policy); err != nil {
		return nil, err
	}

	holder := &PaymentPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PaymentPolicy
		if err := v.UnmarshalKey("payments", &updated); err != nil {
			log.Printf("[payment-policy] reload failed: %v", err)
			return
		}
		if err := validatePaymentPolicy(updated); err != nil {
			log.Printf("[payment-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payment-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PaymentPolicyHolder) Get() PaymentPolicy {
	value, ok := h.current.Load().(PaymentPolicy)
	if !ok {
		return DefaultPaymentPolicy()
	}
	return value
}

func validatePaymentPolicy(policy PaymentPolicy) error {
	if policy.MinFirstInstallmentPercent < 1 || policy.MinFirstInstallmentPercent > 100 {
		return errors.New("payments.minFirstInstallmentPercent must be within 1..100")
	}
	if policy.SecondInstallmentGraceDays < 1 {
		return errors.New("payments.secondInstallmentGraceDays must be positive")
	}
	return nil
}

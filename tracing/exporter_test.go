package tracing_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forgebench/taskforge/tracing"
)

var _ = Describe("TracerProvider", func() {
	It("returns nil with no error when no OTLP endpoint is configured", func() {
		cfg := tracing.Config{}
		tp, shutdown, err := cfg.TracerProvider(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(tp).To(BeNil())
		Expect(shutdown).To(BeNil())
	})

	It("reports Configured() false for an empty OTLPConfig", func() {
		Expect(tracing.OTLPConfig{}.Configured()).To(BeFalse())
	})

	It("reports Configured() true once an address is set", func() {
		Expect(tracing.OTLPConfig{Address: "localhost:4317"}.Configured()).To(BeTrue())
	})
})

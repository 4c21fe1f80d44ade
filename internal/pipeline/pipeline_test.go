package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"receipt-print/internal/config"
	"receipt-print/internal/invoice"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx    context.Context
		logger *slog.Logger
		dir    string
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		dir = GinkgoT().TempDir()
	})

	Context("with a dry-run file", func() {
		var (
			out string
			p   *Pipeline
		)

		BeforeEach(func() {
			out = filepath.Join(dir, "job.bin")
			cfg, err := config.Parse("receipt-print", []string{
				"--dry-run", out,
				"--chunk-delay", "0s",
				"--shop-name", "Shree Ganesh Kirana",
			})
			Expect(err).NotTo(HaveOccurred())

			p, err = New(ctx, cfg, nil, logger)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(p.Close)
		})

		It("skips bluetooth and the printer stores", func() {
			Expect(p.Manager).To(BeNil())
			Expect(p.Registry).To(BeNil())
			Expect(p.Direct).NotTo(BeNil())
		})

		It("writes the framed job to the file", func() {
			inv := &invoice.Invoice{
				Number: "INV-7",
				Items: []invoice.LineItem{{
					ProductName: "Tea Powder",
					Quantity:    decimal.NewFromInt(1),
					UnitPrice:   decimal.NewFromInt(120),
					Amount:      decimal.NewFromInt(120),
				}},
			}
			ok, err := p.Service.PrintReceipt(ctx, inv, invoice.Party{Name: "Walk-in"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(p.Close()).To(Succeed())

			data, err := os.ReadFile(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(data[:7]).To(Equal([]byte{0x1B, 0x40, 0x1B, 0x61, 0x00, 0x1B, 0x32}))
			Expect(bytes.HasSuffix(data, []byte{0x1B, 0x64, 0x03, 0x1B, 0x40})).To(BeTrue())
		})
	})

	It("fails when the dry-run file can't be created", func() {
		cfg, err := config.Parse("receipt-print", []string{"--dry-run", filepath.Join(dir, "missing", "job.bin")})
		Expect(err).NotTo(HaveOccurred())

		_, err = New(ctx, cfg, nil, logger)
		Expect(err).To(MatchError(ContainSubstring("dry-run")))
	})
})

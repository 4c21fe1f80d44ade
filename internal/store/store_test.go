package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	printerA = PrinterIdentity{
		DeviceID:      "AA:BB:CC:DD:EE:01",
		DisplayName:   "MPT-II",
		LastConnected: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		ServiceUUID:   "000018f0-0000-1000-8000-00805f9b34fb",
	}
	printerB = PrinterIdentity{
		DeviceID:      "AA:BB:CC:DD:EE:02",
		DisplayName:   "PT-210",
		LastConnected: time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC),
	}
)

func defaults(printers []PrinterIdentity) []string {
	var ids []string
	for _, p := range printers {
		if p.IsDefault {
			ids = append(ids, p.DeviceID)
		}
	}
	return ids
}

var _ = Describe("Cache", func() {
	var (
		ctx   context.Context
		cache *Cache
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		cache, err = OpenCache(filepath.Join(GinkgoT().TempDir(), "cache.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cache.Close)
	})

	It("reports a missing printer", func() {
		_, err := cache.Load(ctx)
		Expect(err).To(MatchError(ErrNotFound))
	})

	It("round trips the last printer", func() {
		Expect(cache.Store(ctx, printerA)).To(Succeed())
		Expect(cache.Store(ctx, printerB)).To(Succeed())

		p, err := cache.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(*p).To(Equal(printerB))
	})

	It("only clears a matching device", func() {
		Expect(cache.Store(ctx, printerA)).To(Succeed())

		Expect(cache.Clear(ctx, printerB.DeviceID)).To(Succeed())
		_, err := cache.Load(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(cache.Clear(ctx, printerA.DeviceID)).To(Succeed())
		_, err = cache.Load(ctx)
		Expect(err).To(MatchError(ErrNotFound))
	})
})

var _ = Describe("Durable", func() {
	var (
		ctx     context.Context
		durable *Durable
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		durable, err = OpenDurable(ctx, filepath.Join(GinkgoT().TempDir(), "printers.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(durable.Close)
	})

	It("upserts and reads back printers", func() {
		Expect(durable.Upsert(ctx, printerA)).To(Succeed())

		renamed := printerA
		renamed.DisplayName = "Counter printer"
		Expect(durable.Upsert(ctx, renamed)).To(Succeed())

		p, err := durable.Get(ctx, printerA.DeviceID)
		Expect(err).NotTo(HaveOccurred())
		Expect(*p).To(Equal(renamed))

		all, err := durable.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
	})

	It("returns ErrNotFound for unknown printers", func() {
		_, err := durable.Get(ctx, "nope")
		Expect(err).To(MatchError(ErrNotFound))
		_, err = durable.Default(ctx)
		Expect(err).To(MatchError(ErrNotFound))
	})

	It("keeps exactly one default when a new default is set", func() {
		a := printerA
		a.IsDefault = true
		Expect(durable.Upsert(ctx, a)).To(Succeed())
		Expect(durable.Upsert(ctx, printerB)).To(Succeed())

		b := printerB
		b.IsDefault = true
		Expect(durable.Upsert(ctx, b)).To(Succeed())

		all, err := durable.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(defaults(all)).To(Equal([]string{printerB.DeviceID}))

		p, err := durable.Default(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.DeviceID).To(Equal(printerB.DeviceID))
	})

	It("unsets other defaults when upserting a default", func() {
		a := printerA
		a.IsDefault = true
		b := printerB
		b.IsDefault = true
		Expect(durable.Upsert(ctx, a)).To(Succeed())
		Expect(durable.Upsert(ctx, b)).To(Succeed())

		all, err := durable.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(defaults(all)).To(Equal([]string{printerB.DeviceID}))
	})

	It("falls back to the most recent printer when none is default", func() {
		Expect(durable.Upsert(ctx, printerB)).To(Succeed())
		Expect(durable.Upsert(ctx, printerA)).To(Succeed())

		p, err := durable.Default(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.DeviceID).To(Equal(printerB.DeviceID))
	})

	It("deletes one or all printers", func() {
		Expect(durable.Upsert(ctx, printerA)).To(Succeed())
		Expect(durable.Upsert(ctx, printerB)).To(Succeed())

		Expect(durable.Delete(ctx, printerA.DeviceID)).To(Succeed())
		all, _ := durable.List(ctx)
		Expect(all).To(HaveLen(1))

		Expect(durable.DeleteAll(ctx)).To(Succeed())
		all, _ = durable.List(ctx)
		Expect(all).To(BeEmpty())
	})
})

var _ = Describe("Registry", func() {
	var (
		ctx     context.Context
		dir     string
		cache   *Cache
		durable *Durable
		reg     *Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		var err error
		cache, err = OpenCache(filepath.Join(dir, "cache.db"))
		Expect(err).NotTo(HaveOccurred())
		durable, err = OpenDurable(ctx, filepath.Join(dir, "printers.db"))
		Expect(err).NotTo(HaveOccurred())

		reg = NewRegistry(cache, durable, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		DeferCleanup(reg.Close)
	})

	It("writes through to cache and durable store", func() {
		Expect(reg.Save(ctx, printerA)).To(Succeed())

		cached, err := cache.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cached.DeviceID).To(Equal(printerA.DeviceID))

		stored, err := durable.Get(ctx, printerA.DeviceID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.DisplayName).To(Equal(printerA.DisplayName))
	})

	It("rejects identities without a device id", func() {
		Expect(reg.Save(ctx, PrinterIdentity{DisplayName: "ghost"})).NotTo(Succeed())
	})

	It("prefers the cache when reading", func() {
		Expect(durable.Upsert(ctx, printerA)).To(Succeed())
		Expect(cache.Store(ctx, printerB)).To(Succeed())

		p, err := reg.Last(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.DeviceID).To(Equal(printerB.DeviceID))
	})

	It("falls back to the durable store and refills the cache", func() {
		Expect(durable.Upsert(ctx, printerA)).To(Succeed())

		p, err := reg.Last(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.DeviceID).To(Equal(printerA.DeviceID))

		cached, err := cache.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cached.DeviceID).To(Equal(printerA.DeviceID))
	})

	It("reports nothing saved", func() {
		_, err := reg.Last(ctx)
		Expect(err).To(MatchError(ErrNotFound))
		Expect(reg.Authorized(ctx, printerA.DeviceID)).To(BeFalse())
	})

	It("only authorizes previously saved printers", func() {
		Expect(reg.Save(ctx, printerA)).To(Succeed())
		Expect(reg.Authorized(ctx, printerA.DeviceID)).To(BeTrue())
		Expect(reg.Authorized(ctx, printerB.DeviceID)).To(BeFalse())
		Expect(reg.Authorized(ctx, "")).To(BeFalse())
	})

	It("moves the default flag between printers", func() {
		a := printerA
		a.IsDefault = true
		Expect(reg.Save(ctx, a)).To(Succeed())
		Expect(reg.Save(ctx, printerB)).To(Succeed())

		Expect(reg.SetDefault(ctx, printerB.DeviceID)).To(Succeed())

		all, err := reg.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(defaults(all)).To(Equal([]string{printerB.DeviceID}))

		last, err := reg.Last(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(last.DeviceID).To(Equal(printerB.DeviceID))
	})

	It("refuses to make an unknown printer the default", func() {
		Expect(reg.SetDefault(ctx, "nope")).To(MatchError(ErrNotFound))
	})

	It("keeps the default flag when touching a printer", func() {
		a := printerA
		a.IsDefault = true
		Expect(reg.Save(ctx, a)).To(Succeed())

		touched := printerA
		touched.LastConnected = printerA.LastConnected.Add(time.Hour)
		Expect(reg.Touch(ctx, touched)).To(Succeed())

		p, err := durable.Get(ctx, printerA.DeviceID)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.IsDefault).To(BeTrue())
		Expect(p.LastConnected).To(Equal(touched.LastConnected))
	})

	It("ignores touches for unknown printers", func() {
		Expect(reg.Touch(ctx, printerB)).To(Succeed())
		Expect(reg.Authorized(ctx, printerB.DeviceID)).To(BeFalse())
	})

	It("forgets one printer from every tier", func() {
		Expect(reg.Save(ctx, printerB)).To(Succeed())
		Expect(reg.Save(ctx, printerA)).To(Succeed())

		Expect(reg.Forget(ctx, printerA.DeviceID)).To(Succeed())

		_, err := cache.Load(ctx)
		Expect(err).To(MatchError(ErrNotFound))
		Expect(reg.Authorized(ctx, printerA.DeviceID)).To(BeFalse())
		Expect(reg.Authorized(ctx, printerB.DeviceID)).To(BeTrue())
	})

	It("forgets every printer", func() {
		Expect(reg.Save(ctx, printerA)).To(Succeed())
		Expect(reg.Save(ctx, printerB)).To(Succeed())

		Expect(reg.ForgetAll(ctx)).To(Succeed())

		_, err := reg.Last(ctx)
		Expect(err).To(MatchError(ErrNotFound))
	})
})

var _ = Describe("Remote", func() {
	var (
		ctx    context.Context
		remote *Remote
	)

	BeforeEach(func() {
		dsn := os.Getenv("RECEIPT_PRINT_TEST_DSN")
		if dsn == "" {
			Skip("RECEIPT_PRINT_TEST_DSN not set")
		}
		ctx = context.Background()
		var err error
		remote, err = OpenRemote(ctx, RemoteConfig{DSN: dsn, UserID: "test-" + time.Now().Format("150405.000000"), DialTimeout: 5 * time.Second},
			slog.New(slog.NewTextHandler(io.Discard, nil)))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			remote.DeleteAll(ctx)
			remote.Close()
		})
	})

	It("upserts on user and device with a single default", func() {
		a := printerA
		a.IsDefault = true
		Expect(remote.Upsert(ctx, a)).To(Succeed())
		b := printerB
		b.IsDefault = true
		Expect(remote.Upsert(ctx, b)).To(Succeed())
		Expect(remote.Upsert(ctx, b)).To(Succeed())

		p, err := remote.Default(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.DeviceID).To(Equal(printerB.DeviceID))
		Expect(p.IsDefault).To(BeTrue())

		Expect(remote.Delete(ctx, printerB.DeviceID)).To(Succeed())
		p, err = remote.Default(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.DeviceID).To(Equal(printerA.DeviceID))
		Expect(p.IsDefault).To(BeFalse())
	})

	It("requires a user id", func() {
		_, err := OpenRemote(ctx, RemoteConfig{DSN: "postgres://localhost/none"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		Expect(err).To(HaveOccurred())
	})
})

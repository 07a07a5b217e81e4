/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Test for the redis client utilities.

package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gredis "github.com/redis/go-redis/v9"

	"github.com/llm-d-incubation/lexicon-batch/internal/util/redis"
	utls "github.com/llm-d-incubation/lexicon-batch/internal/util/tls"
)

func TestRedisClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Redis Client Suite")
}

var (
	redisUrl    string
	redisCaCert string
	minirds     *miniredis.Miniredis
)

var _ = BeforeSuite(func() {
	redisUrl = os.Getenv("TEST_REDIS_URL")
	redisCaCert = os.Getenv("TEST_REDIS_CACERT_PATH")
	if redisUrl == "" {
		minirds = miniredis.RunT(GinkgoT())
		Expect(minirds).ToNot(BeNil())
		redisUrl = "redis://" + minirds.Addr()
	}
})

var _ = Describe("Redis Client", func() {
	var rds *gredis.Client
	var err error

	BeforeEach(func() {
		cfg := &redis.RedisClientConfig{
			Url:         redisUrl,
			ServiceName: "test-service",
		}
		if redisCaCert != "" {
			cfg.EnableTLS = true
			cfg.Certificates = &utls.Certificates{
				CaCertFile: redisCaCert,
			}
		}
		rds, err = redis.NewRedisClient(context.Background(), cfg)
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		if rds != nil {
			rds.Close()
		}
	})

	It("should create a redis client", func() {
		Expect(rds).NotTo(BeNil())
	})

	It("should name the client after the service", func() {
		Expect(rds.Options().ClientName).To(HavePrefix("test-service-"))
	})

	It("should set, get and delete a key", func() {
		_, err := rds.Set(context.Background(), "k1", "v1", -1).Result()
		Expect(err).To(BeNil())
		val, err := rds.Get(context.Background(), "k1").Result()
		Expect(err).To(BeNil())
		Expect(val).To(Equal("v1"))
		_, err = rds.Del(context.Background(), "k1").Result()
		Expect(err).To(BeNil())
	})

	It("should reject a missing config or url", func() {
		_, errNil := redis.NewRedisClient(context.Background(), nil)
		Expect(errNil).ToNot(BeNil())
		_, errEmpty := redis.NewRedisClient(context.Background(), &redis.RedisClientConfig{})
		Expect(errEmpty).ToNot(BeNil())
	})

	It("should fail to create a redis client with invalid URL", func() {
		cfgInv := &redis.RedisClientConfig{
			Url:         "redis://invalid-url",
			ServiceName: "test-service",
		}
		rdsInv, errInv := redis.NewRedisClient(context.Background(), cfgInv)
		Expect(errInv).ToNot(BeNil())
		Expect(rdsInv).To(BeNil())
	})

	It("should refuse TLS with half a client key pair", func() {
		cfgTLS := &redis.RedisClientConfig{
			Url:          redisUrl,
			EnableTLS:    true,
			Certificates: &utls.Certificates{CertFile: "client.pem"},
		}
		_, errTLS := redis.NewRedisClient(context.Background(), cfgTLS)
		Expect(errTLS).ToNot(BeNil())
	})
})

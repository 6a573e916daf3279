package expense

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-capture/internal/scanning"
)

func multipartUpload(field string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if field != "" {
		part, err := writer.CreateFormFile(field, "receipt.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		recognizer  *mockRecognizer
		extractor   *mockExtractor
		pipeline    *Pipeline
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		recognizer = newMockRecognizer(starbucksText)
		extractor = newMockExtractor(starbucks())
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		pipeline = NewPipeline(recognizer, extractor, "eng")
		server = NewServerWithMux(pipeline, NewReviewer(), auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.SetAllowUnhandledRequests(false)
		for i := 0; i < 4; i++ {
			ghttpServer.AppendHandlers(server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	postScan := func(field string, data []byte) *http.Response {
		body, contentType := multipartUpload(field, data)
		resp, err := http.Post(ghttpServer.URL()+"/api/scan", contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeState := func(resp *http.Response) State {
		defer resp.Body.Close()
		var st State
		Expect(json.NewDecoder(resp.Body).Decode(&st)).To(Succeed())
		return st
	}

	Describe("handleScan", func() {
		When("the receipt is processed", func() {
			It("should return the succeeded state", func() {
				resp := postScan("file", []byte("receipt"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				st := decodeState(resp)
				Expect(st.Status).To(Equal(StatusSucceeded))
				Expect(st.Expense.Description).To(Equal("Starbucks"))
				Expect(st.Expense.Amount.String()).To(Equal("4.5"))
			})

			It("should set CORS headers", func() {
				resp := postScan("file", []byte("receipt"))
				defer resp.Body.Close()
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			})
		})

		When("the pipeline fails", func() {
			BeforeEach(func() {
				extractor.err = &scanning.Error{Kind: scanning.KindDecoding, Detail: "bad reply"}
			})

			It("should return unprocessable entity with the failure", func() {
				resp := postScan("file", []byte("receipt"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				st := decodeState(resp)
				Expect(st.Status).To(Equal(StatusFailed))
				Expect(st.Failure.Kind).To(Equal(scanning.KindDecoding))
				Expect(st.Failure.Stage).To(Equal(StageExtraction))
			})
		})

		When("no file is attached", func() {
			It("should return bad request", func() {
				resp := postScan("", nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body["error"]).To(Equal("No file was selected. Please choose a file to upload."))
				Expect(recognizer.callCount()).To(BeZero())
			})
		})

		When("the body is not multipart", func() {
			It("should return bad request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/scan", "application/json", strings.NewReader("{}"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("state endpoints", func() {
		It("should report idle before any scan", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/state")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeState(resp).Status).To(Equal(StatusIdle))
		})

		It("should serve the form for the latest result", func() {
			resp := postScan("file", []byte("receipt"))
			resp.Body.Close()

			resp, err := http.Get(ghttpServer.URL() + "/api/state/form")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var form ExpenseForm
			Expect(json.NewDecoder(resp.Body).Decode(&form)).To(Succeed())
			Expect(form.Description).To(Equal("Starbucks"))
			Expect(form.Date).To(Equal("2025-07-10"))
		})

		It("should reset the state", func() {
			resp := postScan("file", []byte("receipt"))
			resp.Body.Close()

			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/state", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err = http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			Expect(pipeline.State().Status).To(Equal(StatusIdle))
		})

		It("should stream state events", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/state/events")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			reader := bufio.NewReader(resp.Body)
			readEvent := func() State {
				event, err := reader.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				Expect(event).To(Equal("event: state\n"))
				data, err := reader.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(HavePrefix("data: "))
				blank, err := reader.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				Expect(blank).To(Equal("\n"))

				var st State
				Expect(json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &st)).To(Succeed())
				return st
			}

			Expect(readEvent().Status).To(Equal(StatusIdle))

			pipeline.Reset()
			Expect(readEvent().Status).To(Equal(StatusIdle))
		})
	})

	Describe("handleCategories", func() {
		It("should list every category", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/categories")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var names []string
			Expect(json.NewDecoder(resp.Body).Decode(&names)).To(Succeed())
			Expect(names).To(Equal([]string{
				"food", "groceries", "shopping", "entertainment", "utilities", "transportation", "other",
			}))
		})
	})

	Describe("handleSaveExpense", func() {
		postExpense := func(body string) *http.Response {
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("should create the expense", func() {
			resp := postExpense(`{"description":"Starbucks","price":"4.50","date":"2025-07-10","category":"food"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var expense Expense
			Expect(json.NewDecoder(resp.Body).Decode(&expense)).To(Succeed())
			Expect(expense.ID).NotTo(BeEmpty())
			Expect(expense.Category).To(Equal(scanning.CategoryFood))
		})

		It("should accept a numeric price", func() {
			resp := postExpense(`{"description":"Starbucks","price":4.5,"date":"2025-07-10","category":"food"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var body map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body["price"]).To(Equal("4.5"))
			Expect(body["date"]).To(Equal("2025-07-10"))
		})

		It("should report the invalid field", func() {
			resp := postExpense(`{"description":"","price":"4.50"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(MatchJSON(`{"field":"description","error":"Please enter a description."}`))
		})

		It("should reject malformed JSON", func() {
			resp := postExpense(`{`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("CORS preflight", func() {
		It("should answer OPTIONS without auth", func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			server = NewServerWithMux(pipeline, NewReviewer(), auth, http.NewServeMux())
			ghttpServer.SetHandler(0, server.ServeHTTP)

			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/scan", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/state")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/state", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/state", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})

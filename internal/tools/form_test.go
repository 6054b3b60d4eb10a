// internal/tools/form_test.go
package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

func contactFormInfo() map[string]interface{} {
	return map[string]interface{}{
		"found":         true,
		"form_selector": "#contact",
		"action":        "/send",
		"method":        "post",
		"fields": []map[string]interface{}{
			{"name": "your-name", "type": "text", "label": "Your name", "selector": "#your-name", "required": true},
			{"name": "your-email", "type": "email", "label": "Email", "selector": "#your-email", "required": true},
			{"name": "msg", "type": "textarea", "label": "How can we help?", "selector": "#msg"},
		},
	}
}

func TestFormDetect(t *testing.T) {
	page := &scriptedPage{formInfo: contactFormInfo()}
	result := dispatch(t, page, "form.detect", nil)

	assert.Equal(t, true, result["found"])
	assert.Equal(t, "#contact", result["form_selector"])
	assert.Equal(t, 3, result["field_count"])
}

func TestFormFieldsNoForm(t *testing.T) {
	page := &scriptedPage{formInfo: map[string]interface{}{"found": false}}
	r := NewRegistry(zaptest.NewLogger(t))
	result := r.Dispatch(context.Background(), page, "form.fields", nil, time.Second)
	assert.Equal(t, "no form found on page", result.Err())
}

func TestFormFillFieldRequiresSelector(t *testing.T) {
	page := &scriptedPage{}
	r := NewRegistry(zaptest.NewLogger(t))
	result := r.Dispatch(context.Background(), page, "form.fill_field",
		map[string]interface{}{"selector": "#q", "value": "shoes"}, time.Second)
	require.Empty(t, result.Err())
	assert.Contains(t, page.fills, "#q=shoes")
}

func TestFormFillMatchesSynonymsAndSubmits(t *testing.T) {
	page := &scriptedPage{
		formInfo: contactFormInfo(),
		submitOK: true,
		success:  map[string]interface{}{"success": true, "message": "thank you"},
	}

	result := dispatch(t, page, "form.fill", map[string]interface{}{
		"name":    "Jane Doe",
		"email":   "jane@x.com",
		"message": "hello there",
	})

	assert.Equal(t, true, result["submitted"])
	filled := result["filled"].(map[string]interface{})
	assert.Equal(t, "#your-name", filled["name"])
	assert.Equal(t, "#your-email", filled["email"])
	assert.Equal(t, "#msg", filled["message"])
	assert.Contains(t, page.fills, "#your-name=Jane Doe")
	assert.Contains(t, page.fills, "#your-email=jane@x.com")
	assert.Contains(t, page.fills, "#msg=hello there")
	assert.Equal(t, 1, page.submitCalls)
}

// Submission without a confirmation message still counts when the form is no
// longer present afterwards.
func TestFormFillSubmittedWhenFormGone(t *testing.T) {
	page := &scriptedPage{
		formInfo: contactFormInfo(),
		submitOK: true,
		success:  map[string]interface{}{"success": false},
	}
	// After the first inspection the form disappears.
	first := true
	page.onFormInfo = func() interface{} {
		if first {
			first = false
			return contactFormInfo()
		}
		return map[string]interface{}{"found": false}
	}

	result := dispatch(t, page, "form.fill", map[string]interface{}{"name": "Jane"})
	assert.Equal(t, true, result["submitted"])
}

func TestFormFillHonorsSubmitFalse(t *testing.T) {
	page := &scriptedPage{formInfo: contactFormInfo()}

	result := dispatch(t, page, "form.fill", map[string]interface{}{
		"name":   "Jane",
		"submit": false,
	})

	assert.Equal(t, false, result["submitted"])
	assert.Equal(t, 0, page.submitCalls)
}

func TestFormFillReportsUnmatchedKeys(t *testing.T) {
	page := &scriptedPage{
		formInfo: contactFormInfo(),
		submitOK: true,
		success:  map[string]interface{}{"success": true, "message": "ok"},
	}

	result := dispatch(t, page, "form.fill", map[string]interface{}{
		"name":  "Jane",
		"phone": "5550101",
	})

	errs := result["errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `no field matched "phone"`)
	filled := result["filled"].(map[string]interface{})
	assert.Equal(t, "#your-name", filled["name"])
}

func TestFormFillNothingMatchedDoesNotSubmit(t *testing.T) {
	page := &scriptedPage{
		formInfo: map[string]interface{}{
			"found":         true,
			"form_selector": "#login",
			"fields": []map[string]interface{}{
				{"name": "username", "type": "text", "selector": "#username"},
			},
		},
	}

	result := dispatch(t, page, "form.fill", map[string]interface{}{"phone": "5550101"})
	assert.Equal(t, false, result["submitted"])
	assert.Equal(t, 0, page.submitCalls)
}

func TestFormFillBareSelectorValuePair(t *testing.T) {
	page := &scriptedPage{
		formInfo: contactFormInfo(),
		submitOK: true,
		success:  map[string]interface{}{"success": true, "message": "ok"},
	}

	result := dispatch(t, page, "form.fill", map[string]interface{}{
		"selector": "#custom-field",
		"value":    "hello",
	})

	assert.Contains(t, page.fills, "#custom-field=hello")
	assert.Equal(t, true, result["submitted"])
}

func TestGuidedFieldFillNeverSubmits(t *testing.T) {
	page := &scriptedPage{formInfo: contactFormInfo()}

	result := dispatch(t, page, "llm_guided_field_fill", map[string]interface{}{
		"name":  "Jane",
		"email": "jane@x.com",
	})

	assert.Equal(t, false, result["submitted"])
	assert.Equal(t, 0, page.submitCalls)
	assert.Contains(t, page.fills, "#your-name=Jane")
	assert.Contains(t, page.fills, "#your-email=jane@x.com")
}

func TestFormSubmitNoForm(t *testing.T) {
	page := &scriptedPage{submitOK: false}
	r := NewRegistry(zaptest.NewLogger(t))
	result := r.Dispatch(context.Background(), page, "form.submit", nil, time.Second)
	assert.Equal(t, "no form found to submit", result.Err())
}

func TestFormValidate(t *testing.T) {
	page := &scriptedPage{validity: map[string]interface{}{
		"found": true,
		"valid": false,
		"problems": []map[string]interface{}{
			{"name": "your-email", "message": "Please fill out this field."},
		},
	}}

	result := dispatch(t, page, "form.validate", nil)
	assert.Equal(t, false, result["valid"])
	_, hasFound := result["found"]
	assert.False(t, hasFound, "the found flag is internal")
}

func TestFormCheckRequired(t *testing.T) {
	info := contactFormInfo()
	fields := info["fields"].([]map[string]interface{})
	fields[0]["value"] = "Jane" // name already filled
	page := &scriptedPage{formInfo: info}

	result := dispatch(t, page, "form.check_required", nil)
	assert.Equal(t, []string{"your-email"}, result["missing"])
}

func TestMatchFieldFallbacks(t *testing.T) {
	fields := []schemas.FormField{
		{Name: "f1", Type: "text", Selector: "#f1"},
		{Name: "f2", Type: "email", Selector: "#f2"},
		{Name: "f3", Type: "textarea", Selector: "#f3"},
	}

	assert.Equal(t, "#f2", matchField(fields, "email").Selector)
	assert.Equal(t, "#f3", matchField(fields, "message").Selector)
	assert.Nil(t, matchField(fields, "subject"))
}

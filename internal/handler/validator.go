package handler

import (
	"fmt"
	"reflect"
	"strings"

	"fresh_chat_server/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// Trans 全局翻译器，供 response.go 使用
var Trans ut.Translator

// threadKeyMessages threadkey 校验失败时的提示
var threadKeyMessages = map[string]string{
	"zh": "{0}必须是合法的会话ID",
	"en": "{0} must be a valid thread key",
}

// InitTrans 初始化翻译器并注册自定义校验规则
// locale 为 "zh" 或 "en"
func InitTrans(locale string) (err error) {
	// Gin v1.9+ 中 binding.Validator 可能为 nil
	if binding.Validator == nil {
		binding.Validator = &defaultValidator{validator: validator.New()}
	}

	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}

	// 错误信息使用 json tag 作为字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err = v.RegisterValidation("threadkey", validateThreadKey); err != nil {
		return err
	}

	zhT := zh.New()
	enT := en.New()
	// 第一个参数为 fallback 语言
	uni := ut.New(enT, zhT, enT)

	Trans, ok = uni.GetTranslator(locale)
	if !ok {
		return fmt.Errorf("uni.GetTranslator(%s) failed", locale)
	}

	switch locale {
	case "zh":
		err = zh_translations.RegisterDefaultTranslations(v, Trans)
	default:
		locale = "en"
		err = en_translations.RegisterDefaultTranslations(v, Trans)
	}
	if err != nil {
		return err
	}
	return v.RegisterTranslation("threadkey", Trans,
		func(t ut.Translator) error {
			return t.Add("threadkey", threadKeyMessages[locale], true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T("threadkey", fe.Field())
			return msg
		},
	)
}

// validateThreadKey 会话 ID 必须是两个用户 ID 排序后的组合
func validateThreadKey(fl validator.FieldLevel) bool {
	_, _, ok := model.ParsePairKey(fl.Field().String())
	return ok
}

// RemoveTopStruct 去除提示信息中的结构体名前缀，如 "SendMessageRequest.text"
func RemoveTopStruct(fields map[string]string) map[string]string {
	res := make(map[string]string)
	for field, err := range fields {
		res[field[strings.Index(field, ".")+1:]] = err
	}
	return res
}

// defaultValidator 实现 binding.StructValidator
type defaultValidator struct {
	validator *validator.Validate
}

// ValidateStruct 实现 StructValidator 接口
func (v *defaultValidator) ValidateStruct(obj interface{}) error {
	return v.validator.Struct(obj)
}

// Engine 实现 StructValidator 接口
func (v *defaultValidator) Engine() interface{} {
	return v.validator
}

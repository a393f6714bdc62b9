package config

const (
	DefaultMaxTasks      = 1000
	DefaultMaxChainDepth = 10000
	DefaultTypeCacheSize = 512
)

// Default returns the settings for kotlinx.coroutines running on a JVM.
func Default() *Config {
	return &Config{
		Limits: Limits{
			MaxTasks:      DefaultMaxTasks,
			MaxChainDepth: DefaultMaxChainDepth,
			TypeCacheSize: DefaultTypeCacheSize,
		},
		Log:     Log{Level: "info"},
		Delve:   Delve{Binary: "dlv"},
		Dump: Dump{
			Compression: "zstd",
			Redact:      []string{"(?i)password", "(?i)token", "(?i)secret", "(?i)credential"},
			Replacement: "***REDACTED***",
		},
		Profile: KotlinProfile(),
	}
}

// KotlinProfile names the kotlin-stdlib and kotlinx.coroutines internals.
func KotlinProfile() Profile {
	return Profile{
		BaseContinuation: "kotlin.coroutines.jvm.internal.BaseContinuationImpl",
		CompletionField:  "completion",
		SuspendLambdas: []string{
			"kotlin.coroutines.jvm.internal.SuspendLambda",
			"kotlin.coroutines.jvm.internal.RestrictedSuspendLambda",
		},
		EntryMethod: MethodRef{
			Name:      "invokeSuspend",
			Signature: "(Ljava/lang/Object;)Ljava/lang/Object;",
		},
		ResumeMethod: MethodRef{
			Name:      "resumeWith",
			Signature: "(Ljava/lang/Object;)V",
		},
		CompletionLocal: "completion",
		IntrinsicMarker: MethodRef{
			Owner:     "kotlin.coroutines.intrinsics.IntrinsicsKt__IntrinsicsKt",
			Name:      "getCOROUTINE_SUSPENDED",
			Signature: "()Ljava/lang/Object;",
		},
		DebugMetadata: DebugMetadata{
			Type: "kotlin.coroutines.jvm.internal.DebugMetadataKt",
			StackTraceElement: MethodRef{
				Name:      "getStackTraceElement",
				Signature: "(Lkotlin/coroutines/jvm/internal/BaseContinuationImpl;)Ljava/lang/StackTraceElement;",
			},
			SpilledVariables: MethodRef{
				Name:      "getSpilledVariableFieldMapping",
				Signature: "(Lkotlin/coroutines/jvm/internal/BaseContinuationImpl;)[Ljava/lang/String;",
			},
		},
		StackTraceElement: StackTraceElement{
			Type:       "java.lang.StackTraceElement",
			ClassName:  MethodRef{Name: "getClassName", Signature: "()Ljava/lang/String;"},
			MethodName: MethodRef{Name: "getMethodName", Signature: "()Ljava/lang/String;"},
			FileName:   MethodRef{Name: "getFileName", Signature: "()Ljava/lang/String;"},
			LineNumber: MethodRef{Name: "getLineNumber", Signature: "()I"},
		},
		TaskWrapper: TaskWrapper{
			Type:              "kotlinx.coroutines.DispatchedContinuation",
			ContinuationField: "continuation",
		},
		Mirrors: Mirrors{
			StandaloneCoroutine:     "kotlinx.coroutines.StandaloneCoroutine",
			ChildContinuation:       "kotlinx.coroutines.ChildContinuation",
			CancellableContinuation: "kotlinx.coroutines.CancellableContinuationImpl",
			Context:                 "kotlin.coroutines.CoroutineContext",
			NameElement:             "kotlinx.coroutines.CoroutineName",
			IDElement:               "kotlinx.coroutines.CoroutineId",
			JobElement:              "kotlinx.coroutines.Job",
		},
		ToString: MethodRef{
			Owner:     "java.lang.Object",
			Name:      "toString",
			Signature: "()Ljava/lang/String;",
		},
	}
}
